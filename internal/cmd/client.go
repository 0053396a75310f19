package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ppline/internal/config"
	"github.com/Iron-Ham/ppline/internal/diagserver"
	"github.com/Iron-Ham/ppline/internal/tui/diagview"
)

// diagAddr is shared by every command that talks to a running pipeline.
var diagAddr string

func addDiagFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&diagAddr, "addr", "", "diagnostics server address (default diag.listen)")
}

// diagBaseURL resolves the server address, mapping wildcard hosts to
// loopback.
func diagBaseURL() string {
	addr := diagAddr
	if addr == "" {
		addr = config.Get().Diag.Listen
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

type diagClient struct {
	base string
	http *http.Client
}

func newDiagClient(base string) *diagClient {
	return &diagClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *diagClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *diagClient) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *diagClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach diagnostics server at %s (is ppline running?): %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e diagserver.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *diagClient) Diag(ctx context.Context) (diagserver.DiagResponse, error) {
	var resp diagserver.DiagResponse
	err := c.get(ctx, "/diag", &resp)
	return resp, err
}

func (c *diagClient) Top(ctx context.Context, kind string, limit int) (diagserver.TopResponse, error) {
	var resp diagserver.TopResponse
	err := c.get(ctx, fmt.Sprintf("/top/%s?limit=%d", kind, limit), &resp)
	return resp, err
}

func (c *diagClient) ResetPeaks(ctx context.Context) error {
	return c.post(ctx, "/top/peak/reset", nil)
}

func (c *diagClient) Usage(ctx context.Context) (diagserver.UsageResponse, error) {
	var resp diagserver.UsageResponse
	err := c.get(ctx, "/usage", &resp)
	return resp, err
}

func (c *diagClient) LogLevel(ctx context.Context, direction string, worker int) (diagserver.LogLevelResponse, error) {
	var resp diagserver.LogLevelResponse
	err := c.post(ctx, fmt.Sprintf("/loglevel/%s?worker=%d", direction, worker), &resp)
	return resp, err
}

// Snapshot gathers everything the live view shows.
func (c *diagClient) Snapshot(ctx context.Context, limit int) (diagview.Snapshot, error) {
	var snap diagview.Snapshot
	var err error
	if snap.Diag, err = c.Diag(ctx); err != nil {
		return snap, err
	}
	seqs, err := c.Top(ctx, "sequences", limit)
	if err != nil {
		return snap, err
	}
	peaks, err := c.Top(ctx, "peak", limit)
	if err != nil {
		return snap, err
	}
	if snap.Usage, err = c.Usage(ctx); err != nil {
		return snap, err
	}
	snap.Sequences = seqs.Items
	snap.Peaks = peaks.Items
	snap.At = time.Now()
	return snap, nil
}
