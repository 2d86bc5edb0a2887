// Package rpcclient is the client side of the rpc package's HTTP surface:
// one fresh connection per call (disabling keep-alives so every call
// actually redials, refreshing authentication exactly as spec.md §4.6
// step 2a/2d/2e describes), JSON envelopes from pkg/wire, and the error
// kinds from pkg/errs surfaced back to callers.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/halvard-eide/rrworker/pkg/errs"
	"github.com/halvard-eide/rrworker/pkg/seqnum"
	"github.com/halvard-eide/rrworker/pkg/wire"
)

// Client calls a single rrworker server on behalf of one authenticated
// caller. It satisfies uploader.Caller.
type Client struct {
	baseURL  string
	userData string
}

// New constructs a Client. baseURL is e.g. "http://host:port"; userData is
// the opaque credential string sent with every call (see rpc.Verifier).
func New(baseURL, userData string) *Client {
	return &Client{baseURL: baseURL, userData: userData}
}

// freshHTTPClient returns an *http.Client that never reuses a connection
// from a previous call, per spec.md §4.6's "open a fresh client connection"
// requirement for each of notify/pending/upload.
func freshHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func (c *Client) do(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := freshHTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errs.Unauthorized
	}
	if resp.StatusCode >= 300 {
		var errResp wire.ErrorResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&errResp); decErr == nil && errResp.Error != "" {
			return fmt.Errorf("rpcclient: %s", errResp.Error)
		}
		return fmt.Errorf("rpcclient: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitWork calls submit_work and blocks until the server commits a
// result or error. The server-side handler itself enforces the long
// worker-call timeout (spec.md §5); ctx governs client-side cancellation.
func (c *Client) SubmitWork(ctx context.Context, payload []byte, seq seqnum.SequenceNumber) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSubmitWorkTimeout)
		defer cancel()
	}
	var out wire.SubmitWorkResponse
	if err := c.do(ctx, "/rpc/submit_work", wire.SubmitWorkRequest{
		UserData: c.userData,
		Payload:  payload,
		Seq:      seq,
	}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("rpcclient: %s", out.Error)
	}
	return out.Result, nil
}

// Notify implements uploader.Caller. sessionID is accepted for interface
// compatibility but unused: the server derives the session from userData.
func (c *Client) Notify(ctx context.Context, sessionID string, id uint32) error {
	return c.do(ctx, "/rpc/reinit_notify", wire.ReinitNotifyRequest{UserData: c.userData, ID: id}, nil)
}

// Pending implements uploader.Caller.
func (c *Client) Pending(ctx context.Context, sessionID string, id uint32) (bool, error) {
	var out wire.ReinitPendingResponse
	if err := c.do(ctx, "/rpc/reinit_pending", wire.ReinitPendingRequest{UserData: c.userData, ID: id}, &out); err != nil {
		return false, err
	}
	return out.Proceed, nil
}

// Upload implements uploader.Caller.
func (c *Client) Upload(ctx context.Context, sessionID string, id uint32, data []byte) error {
	return c.do(ctx, "/rpc/reinit_upload", wire.ReinitUploadRequest{UserData: c.userData, ID: id, Payload: data}, nil)
}

// Enforce calls reinit_enforce.
func (c *Client) Enforce(ctx context.Context) error {
	return c.do(ctx, "/rpc/reinit_enforce", wire.ReinitEnforceRequest{UserData: c.userData}, nil)
}

// DefaultSubmitWorkTimeout bounds a client-side SubmitWork call when the
// caller doesn't supply its own context deadline.
const DefaultSubmitWorkTimeout = 24 * time.Hour
