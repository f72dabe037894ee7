// Package relay connects a front end speaking newline-delimited JSON on a
// pair of streams to a kernel transport.
//
// Each input line is a command envelope:
//
//	{"token":"tok-1","commandType":"SubmitCode","command":{"code":"1+1"}}
//
// Each output line is an event envelope received from the kernel. Input
// that cannot be submitted is answered with a CommandFailed event carrying
// the command's token, if it had one.
package relay
