package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ppline/internal/config"
	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/itemconfig"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/pipeline"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/preproc/step"
	"github.com/Iron-Ham/ppline/internal/taskqueue"
	"github.com/Iron-Ham/ppline/internal/variant"
)

var testCmd = &cobra.Command{
	Use:   "test <itemid> <value>",
	Short: "Test an item's preprocessing steps against a value",
	Long: `Run a value through the preprocessing steps configured for an item and
show the outcome of every step.

The item is looked up in the item file (--items, or items.file from the
configuration). Steps that compare against the previous value, such as
deltas, can be given one with --prev-value and --prev-ts.

The test never changes any state of a running pipeline.`,
	Args: cobra.ExactArgs(2),
	RunE: runTest,
}

var (
	testItems     string        // Item file override
	testTS        int64         // Value timestamp, Unix seconds
	testPrevValue string        // Previous value for history steps
	testPrevTS    int64         // Previous value timestamp, Unix seconds
	testTimeout   time.Duration // How long to wait for the result
	testJSON      bool          // Output as JSON
)

func init() {
	testCmd.Flags().StringVar(&testItems, "items", "", "item configuration file (overrides items.file)")
	testCmd.Flags().Int64Var(&testTS, "ts", 0, "value timestamp in Unix seconds (default now)")
	testCmd.Flags().StringVar(&testPrevValue, "prev-value", "", "previous value for steps that keep history")
	testCmd.Flags().Int64Var(&testPrevTS, "prev-ts", 0, "previous value timestamp in Unix seconds (default one second before --ts)")
	testCmd.Flags().DurationVar(&testTimeout, "timeout", 10*time.Second, "how long to wait for the result")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output the result as JSON")
	rootCmd.AddCommand(testCmd)
}

// TestOutput is the JSON form of a test run.
type TestOutput struct {
	RequestID string           `json:"request_id"`
	ItemID    uint64           `json:"itemid"`
	Input     string           `json:"input"`
	Steps     []TestStepOutput `json:"steps"`
	Result    ValueOutput      `json:"result"`
}

// TestStepOutput is the outcome of one step.
type TestStepOutput struct {
	Type         string       `json:"type"`
	Params       string       `json:"params,omitempty"`
	Result       ValueOutput  `json:"result"`
	ErrorHandler string       `json:"error_handler,omitempty"`
	Raw          *ValueOutput `json:"raw,omitempty"`
}

// ValueOutput is the JSON form of a step value.
type ValueOutput struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func valueOutput(v variant.Value) ValueOutput {
	out := ValueOutput{Kind: v.Kind().String()}
	switch {
	case v.IsError():
		out.Error = v.Err()
	case !v.IsNone():
		out.Value = v.String()
	}
	return out
}

func runTest(cmd *cobra.Command, args []string) error {
	itemID, err := parseItemID(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	path := testItems
	if path == "" {
		path = cfg.Items.ResolveItemsFile(baseDir())
	}
	if path == "" {
		return fmt.Errorf("no item file configured, use --items")
	}

	logger, err := logging.NewLogger(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	requestID := uuid.NewString()
	logger = logger.With("request_id", requestID)

	def, err := loadDefinition(path, itemID)
	if err != nil {
		return err
	}
	defer def.Release()

	ts := time.Now()
	if testTS != 0 {
		ts = time.Unix(testTS, 0)
	}

	var history *preproc.History
	if cmd.Flags().Changed("prev-value") {
		prevTS := ts.Add(-time.Second)
		if testPrevTS != 0 {
			prevTS = time.Unix(testPrevTS, 0)
		}
		history = seedHistory(def, variant.Str(testPrevValue), prevTS)
	}

	res, err := runTestTask(def, variant.Str(args[1]), ts, history, logger, testTimeout)
	if err != nil {
		return err
	}

	out := buildTestOutput(requestID, def, args[1], res)
	if testJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}
	printTestText(cmd.OutOrStdout(), out)
	return nil
}

func parseItemID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscan(s, &id); err != nil || id == 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

// loadDefinition builds the definition of one item from the file at path.
// The caller owns the returned reference.
func loadDefinition(path string, itemID uint64) (*preproc.Definition, error) {
	f, err := itemconfig.Load(path)
	if err != nil {
		return nil, err
	}
	items, err := itemconfig.Build(f)
	if err != nil {
		return nil, err
	}

	var def *preproc.Definition
	for _, item := range items {
		if item.ID == itemID {
			def = item.Def
			continue
		}
		item.Def.Release()
	}
	if def == nil {
		return nil, errors.NewConfigError(path, errors.ErrUnknownItem).WithItem(itemID)
	}
	return def, nil
}

// seedHistory records prev as the previous input of every step that keeps
// history.
func seedHistory(def *preproc.Definition, prev variant.Value, ts time.Time) *preproc.History {
	h := preproc.NewHistory(def.HistoryNum())
	for i, st := range def.Steps() {
		if st.Type.NeedsHistory() {
			h.Add(i, prev, ts)
		}
	}
	return h
}

// runTestTask evaluates value on a single worker pool.
func runTestTask(def *preproc.Definition, value variant.Value, ts time.Time, history *preproc.History,
	logger *logging.Logger, timeout time.Duration) (taskqueue.TestResult, error) {
	mgr, err := pipeline.New(1,
		pipeline.WithLogger(logger),
		pipeline.WithEngine(step.New(step.WithLogger(logger.Component("step")))),
	)
	if err != nil {
		return taskqueue.TestResult{}, err
	}
	defer mgr.Close()

	replies := make(chan taskqueue.TestResult, 1)
	mgr.QueueTest(def, value, ts, taskqueue.TestClientFunc(func(r taskqueue.TestResult) {
		replies <- r
	}), history)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case r := <-replies:
			return r, nil
		case <-mgr.Finished():
			tasks, _ := mgr.ProcessFinished(0)
			for _, t := range tasks {
				if tt, ok := t.(*taskqueue.TestTask); ok {
					tt.Reply()
				}
				t.Release()
			}
		case <-deadline.C:
			return taskqueue.TestResult{}, errors.NewTimeoutError("preprocessing test", timeout)
		}
	}
}

func buildTestOutput(requestID string, def *preproc.Definition, input string, res taskqueue.TestResult) TestOutput {
	out := TestOutput{
		RequestID: requestID,
		ItemID:    def.ItemID(),
		Input:     input,
		Steps:     make([]TestStepOutput, 0, len(res.Results)),
		Result:    valueOutput(res.Value),
	}
	steps := def.Steps()
	for i, r := range res.Results {
		so := TestStepOutput{Result: valueOutput(r.Value)}
		if i < len(steps) {
			so.Type = steps[i].Type.String()
			so.Params = steps[i].Params
		}
		if r.ValueRaw.IsError() && r.Action != preproc.ErrorHandlerDefault {
			raw := valueOutput(r.ValueRaw)
			so.Raw = &raw
			so.ErrorHandler = r.Action.String()
		}
		out.Steps = append(out.Steps, so)
	}
	return out
}

func (v ValueOutput) text() string {
	switch {
	case v.Error != "":
		return "error: " + v.Error
	case v.Kind == variant.KindNone.String():
		return "(no value)"
	default:
		return v.Value
	}
}

func printTestText(w io.Writer, out TestOutput) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PREPROCESSING TEST")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Item:    %d\n", out.ItemID)
	fmt.Fprintf(w, "Input:   %s\n", out.Input)
	fmt.Fprintf(w, "Request: %s\n", out.RequestID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEPS")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	if len(out.Steps) == 0 {
		fmt.Fprintln(w, "(no steps)")
	}
	for i, s := range out.Steps {
		fmt.Fprintf(w, "%2d. %-22s %s\n", i+1, s.Type, s.Result.text())
		if s.Raw != nil {
			fmt.Fprintf(w, "    %-22s %s (%s)\n", "", s.Raw.text(), s.ErrorHandler)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "RESULT")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintln(w, out.Result.text())
}
