// Package transport connects a front end to an interactive kernel process
// over the kernel's standard streams.
//
// A Transport spawns the kernel, reads newline-delimited event envelopes
// from its stdout and fans them out to subscribers, writes command
// envelopes to its stdin, and reports when the kernel has announced
// itself ready. It also negotiates an externally reachable URI for the
// kernel's local HTTP API through the kernel's tunnel endpoint.
//
// The pieces, leaves first:
//
//   - LineReader: splits a byte stream into lines.
//   - FindFreePort: discovers an unused loopback TCP port.
//   - Start / Close: process lifecycle, including --http-port negotiation.
//   - SubscribeToKernelEvents: ordered fan-out of parsed event envelopes.
//   - SubmitCommand: one command envelope per line on stdin.
//   - WaitForReady: a one-shot gate settled by the KernelReady event.
//   - SetExternalURI: tunnel negotiation against an ordered candidate list.
//
// Subscribers are notified from the most recently registered to the
// least recently registered. Every subscriber sees a line's envelope
// before the next line is parsed, and all dispatch happens on the single
// goroutine that reads stdout.
package transport
