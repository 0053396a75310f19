package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ppline/internal/diagserver"
	"github.com/Iron-Ham/ppline/internal/tui/diagview"
	"github.com/Iron-Ham/ppline/internal/tui/styles"
	"github.com/Iron-Ham/ppline/internal/util"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Show the state of a running pipeline",
	Long: `Show item count, queue depth and the throughput of the last reporting
period of a running pipeline, read from its diagnostics server.

With --watch, opens a live view that also shows worker usage and the
items with the deepest backlog.`,
	Args: cobra.NoArgs,
	RunE: runDiag,
}

var topCmd = &cobra.Command{
	Use:   "top <sequences|peak>",
	Short: "Rank items by queued tasks or definition references",
	Long: `Rank the items of a running pipeline.

  sequences  serial items by the number of values waiting in their sequence
  peak       items by the highest number of references to their definition
             since the last reset`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sequences", "peak"},
	RunE:      runTop,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show worker busy ratios",
	Args:  cobra.NoArgs,
	RunE:  runUsage,
}

var loglevelCmd = &cobra.Command{
	Use:   "loglevel <increase|decrease>",
	Short: "Raise or lower the log level of pipeline workers",
	Long: `Raise or lower the log level of one worker (--worker N) or of every
worker of a running pipeline.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"increase", "decrease"},
	RunE:      runLogLevel,
}

var (
	diagJSON       bool          // Output as JSON
	diagWatch      bool          // Open the live view
	diagInterval   time.Duration // Live view refresh interval
	topLimit       int           // Number of items to rank
	topReset       bool          // Reset peaks after showing them
	loglevelWorker int           // Worker number, 0 for all
)

func init() {
	for _, c := range []*cobra.Command{diagCmd, topCmd, usageCmd, loglevelCmd} {
		addDiagFlags(c)
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{diagCmd, topCmd, usageCmd} {
		c.Flags().BoolVar(&diagJSON, "json", false, "Output as JSON")
	}

	diagCmd.Flags().BoolVarP(&diagWatch, "watch", "w", false, "open a live view")
	diagCmd.Flags().DurationVar(&diagInterval, "interval", time.Second, "live view refresh interval")
	diagCmd.Flags().IntVarP(&topLimit, "limit", "n", diagserver.DefaultTopLimit, "number of items to rank")

	topCmd.Flags().IntVarP(&topLimit, "limit", "n", diagserver.DefaultTopLimit, "number of items to rank")
	topCmd.Flags().BoolVar(&topReset, "reset", false, "reset peak references after showing them (peak only)")

	loglevelCmd.Flags().IntVar(&loglevelWorker, "worker", 0, "worker number (default all workers)")
}

func runDiag(cmd *cobra.Command, args []string) error {
	client := newDiagClient(diagBaseURL())

	if diagWatch {
		if diagInterval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		limit := topLimit
		return diagview.Run(ctx, func(ctx context.Context) (diagview.Snapshot, error) {
			return client.Snapshot(ctx, limit)
		}, diagInterval)
	}

	resp, err := client.Diag(cmd.Context())
	if err != nil {
		return err
	}
	if diagJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printDiagText(cmd.OutOrStdout(), resp)
	return nil
}

func printDiagText(w io.Writer, resp diagserver.DiagResponse) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PIPELINE")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Items:      %s\n", util.FormatCount(int64(resp.Items)))
	fmt.Fprintf(w, "Workers:    %d\n", resp.Workers)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "QUEUE")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Pending:    %s\n", util.FormatCount(int64(resp.Pending)))
	fmt.Fprintf(w, "Processing: %s\n", util.FormatCount(int64(resp.Processing)))
	fmt.Fprintf(w, "Finished:   %s\n", util.FormatCount(int64(resp.Finished)))
	fmt.Fprintf(w, "Sequences:  %s\n", util.FormatCount(int64(resp.Sequences)))

	if tp := resp.Throughput; tp != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "LAST PERIOD")
		fmt.Fprintln(w, strings.Repeat("─", 50))
		fmt.Fprintf(w, "Queued:     %s\n", util.FormatCount(int64(tp.Queued)))
		fmt.Fprintf(w, "Direct:     %s\n", util.FormatCount(int64(tp.Direct)))
		fmt.Fprintf(w, "Finished:   %s\n", util.FormatCount(int64(tp.Finished)))
		fmt.Fprintf(w, "Processed:  %s\n", util.FormatCount(int64(tp.Processed)))
		fmt.Fprintf(w, "Idle:       %s\n", tp.Idle.Round(time.Millisecond))
	}
}

func runTop(cmd *cobra.Command, args []string) error {
	kind := args[0]
	if kind != "sequences" && kind != "peak" {
		return fmt.Errorf("unknown ranking %q, use sequences or peak", kind)
	}
	if topReset && kind != "peak" {
		return fmt.Errorf("--reset only applies to peak")
	}
	if topLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	client := newDiagClient(diagBaseURL())
	resp, err := client.Top(cmd.Context(), kind, topLimit)
	if err != nil {
		return err
	}
	if topReset {
		if err := client.ResetPeaks(cmd.Context()); err != nil {
			return err
		}
	}

	if diagJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	w := cmd.OutOrStdout()
	if len(resp.Items) == 0 {
		fmt.Fprintln(w, "No items")
		return nil
	}
	column := "Queued"
	if kind == "peak" {
		column = "Peak refs"
	}
	rows := make([][]string, 0, len(resp.Items))
	for i, s := range resp.Items {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatUint(s.ItemID, 10),
			util.FormatCount(int64(s.Tasks)),
		})
	}
	renderTable(w, []string{"#", "Item", column}, rows)
	if topReset {
		fmt.Fprintln(w, "Peak references reset")
	}
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	client := newDiagClient(diagBaseURL())
	resp, err := client.Usage(cmd.Context())
	if err != nil {
		return err
	}
	if diagJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	w := cmd.OutOrStdout()
	tty := isTerminal(w)
	rows := make([][]string, 0, len(resp.Workers))
	for _, u := range resp.Workers {
		row := []string{strconv.Itoa(u.Worker), util.FormatPercent(u.Usage)}
		if tty {
			row = append(row, styles.Bar(u.Usage, 20))
		}
		rows = append(rows, row)
	}
	headers := []string{"Worker", "Busy"}
	if tty {
		headers = append(headers, "")
	}
	renderTable(w, headers, rows)
	fmt.Fprintf(w, "Average: %s\n", util.FormatPercent(resp.Average))
	return nil
}

func runLogLevel(cmd *cobra.Command, args []string) error {
	direction := args[0]
	if direction != "increase" && direction != "decrease" {
		return fmt.Errorf("unknown direction %q, use increase or decrease", direction)
	}
	if loglevelWorker < 0 {
		return fmt.Errorf("--worker must not be negative")
	}

	client := newDiagClient(diagBaseURL())
	resp, err := client.LogLevel(cmd.Context(), direction, loglevelWorker)
	if err != nil {
		return err
	}

	target := "all workers"
	if resp.Worker > 0 {
		target = fmt.Sprintf("worker %d", resp.Worker)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Log level change (%s) sent to %s\n", resp.Direction, target)
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
