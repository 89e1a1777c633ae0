package gstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tv42/httpunix"
)

const unixLocation = "gseq"

// Client talks to a [Server].
type Client struct {
	base string
	hc   *http.Client
}

// NewClient returns a client for addr,
// which is either a host:port pair or a unix socket path prefixed with "unix://".
func NewClient(addr string) *Client {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		t := &httpunix.Transport{}
		t.RegisterLocation(unixLocation, path)
		return &Client{
			base: httpunix.Scheme + "://" + unixLocation,
			hc:   &http.Client{Transport: t},
		}
	}

	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, hc: http.DefaultClient}
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return Status{}, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, responseError(resp)
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Status{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return s, nil
}

// Submit posts one transaction. A zero fee lets the sequencer apply its base fee.
func (c *Client) Submit(ctx context.Context, payload []byte, fee uint64) error {
	u := c.base + "/transactions"
	if fee != 0 {
		u += "?" + url.Values{"fee": {strconv.FormatUint(fee, 10)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return responseError(resp)
	}
	return nil
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Code:    resp.StatusCode,
		Message: strings.TrimSpace(string(body)),
	}
}
