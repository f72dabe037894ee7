package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/m4xw311/kernelio/errors"
)

const (
	apiTunnelPath = "apitunnel"
	frontendType  = "vscode"

	maxTunnelResponseSize = 1 << 20
)

type tunnelRequest struct {
	TunnelURI    string `json:"tunnelUri"`
	FrontendType string `json:"frontendType"`
}

type tunnelResponse struct {
	BootstrapperURI string `json:"bootstrapperUri"`
}

// SetExternalURI records externalURI and negotiates a bootstrapper URI
// for the kernel's HTTP API, first through the kernel's loopback address
// and then through externalURI. Negotiation failures are reported to the
// diagnostic channel and the notifier, never returned.
func (t *Transport) SetExternalURI(ctx context.Context, externalURI *url.URL) error {
	if externalURI == nil {
		return errors.New("external uri is required")
	}

	t.mu.Lock()
	if t.externalURI != nil {
		t.mu.Unlock()
		return errors.ErrExternalURIAlreadySet
	}
	t.externalURI = externalURI
	port := t.httpPort
	t.mu.Unlock()

	candidates := []*url.URL{
		{Scheme: "http", Host: net.JoinHostPort("localhost", strconv.Itoa(port)), Path: "/"},
		externalURI,
	}

	for _, candidate := range candidates {
		bootstrapper, err := t.configureTunnel(ctx, candidate)
		if err != nil {
			pid := t.Identity().PID
			t.channel.AppendLine(fmt.Sprintf("Failure setting up tunnel configuration for kernel process %d", pid))
			t.channel.AppendLine(fmt.Sprintf("Error : %v", err))
			continue
		}

		t.mu.Lock()
		t.bootstrapperURI = bootstrapper
		t.mu.Unlock()
		return nil
	}

	message := fmt.Sprintf("No valid bootstrapper uri can be found, the http api for kernel process %d will not work correctly", t.Identity().PID)
	t.channel.AppendLine(message)
	t.notifier.DisplayError(message)
	return nil
}

func (t *Transport) configureTunnel(ctx context.Context, base *url.URL) (*url.URL, error) {
	id := t.Identity()
	t.channel.AppendLine(fmt.Sprintf("Kernel process %d Port %d is using tunnel uri %s", id.PID, t.HTTPPort(), base))

	body, err := json.Marshal(tunnelRequest{TunnelURI: base.String(), FrontendType: frontendType})
	if err != nil {
		return nil, errors.Wrapf(err, "serializing tunnel request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiTunnelURL(base), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "building tunnel request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "posting tunnel request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTunnelResponseSize))
	if err != nil {
		return nil, errors.Wrapf(err, "reading tunnel response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New("tunnel endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var decoded tunnelResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, errors.Wrapf(err, "decoding tunnel response")
	}
	if decoded.BootstrapperURI == "" {
		return nil, errors.New("tunnel response has no bootstrapperUri")
	}
	bootstrapper, err := url.Parse(decoded.BootstrapperURI)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing bootstrapperUri")
	}
	if !bootstrapper.IsAbs() {
		return nil, errors.New("bootstrapperUri %q is not absolute", decoded.BootstrapperURI)
	}
	return bootstrapper, nil
}

// apiTunnelURL appends the tunnel path to base, adding the separating
// slash when base does not end with one.
func apiTunnelURL(base *url.URL) string {
	u := *base
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += apiTunnelPath
	return u.String()
}
