package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/unkn0wn-root/repcache/cluster"
)

// CallPath is the endpoint every member serves for cross-node invocations.
const CallPath = "/repcache/v1/call"

const maxEnvelopeBytes = 64 << 20

// Client is the HTTP transport. Node strings are host:port. Envelopes are
// CBOR-encoded; the Value payload inside stays whatever the cache's codec
// produced.
//
// Self-calls short-circuit to Local when set, so a member can multicall its
// own node without a network round-trip.
type Client struct {
	// HTTP is the underlying client. nil => a client with sane defaults.
	// Per-call deadlines come from the caller's context, not from here.
	HTTP *http.Client
	// Scheme is "http" or "https". "" => "http".
	Scheme string
	// Self/Local enable the self-call short-circuit.
	Self  cluster.Node
	Local Service
}

var _ Caller = (*Client)(nil)

func (c *Client) Call(ctx context.Context, n cluster.Node, req *Request) (*Response, error) {
	if c.Local != nil && n == c.Self {
		return c.Local.Invoke(ctx, req), nil
	}

	body, err := cbor.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}

	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	url := scheme + "://" + string(n) + CallPath

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/cbor")

	hc := c.HTTP
	if hc == nil {
		hc = defaultHTTPClient
	}
	hresp, err := hc.Do(hreq)
	if err != nil {
		return nil, classifyTransportErr(n, err)
	}
	defer hresp.Body.Close()

	if hresp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc: node %q returned status %s", n, hresp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(hresp.Body, maxEnvelopeBytes))
	if err != nil {
		return nil, fmt.Errorf("rpc: read response from %q: %w", n, err)
	}
	var resp Response
	if err := cbor.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("rpc: decode response from %q: %w", n, err)
	}
	return &resp, nil
}

var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 0, // deadlines come from ctx
	},
}

// classifyTransportErr separates gone from slow: connection-level and DNS
// failures become ErrUnreachable, deadline expiry stays a plain error so the
// multicall reducer treats it as a partial failure.
func classifyTransportErr(n cluster.Node, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return err
		}
		return fmt.Errorf("rpc: node %q: %v: %w", n, err, ErrUnreachable)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("rpc: node %q: %v: %w", n, err, ErrUnreachable)
	}
	return err
}

// NewHandler exposes svc at CallPath. Mount it on each member's HTTP server:
//
//	mux.Handle(rpc.CallPath, rpc.NewHandler(cache.Service()))
func NewHandler(svc Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		var req Request
		if err := cbor.Unmarshal(raw, &req); err != nil {
			http.Error(w, "bad envelope", http.StatusBadRequest)
			return
		}

		resp := svc.Invoke(r.Context(), &req)

		out, err := cbor.Marshal(resp)
		if err != nil {
			http.Error(w, "encode response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(out)
	})
}
