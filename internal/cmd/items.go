package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ppline/internal/config"
	"github.com/Iron-Ham/ppline/internal/itemconfig"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Inspect item configuration files",
}

var itemsValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check an item file for errors",
	Long: `Check an item file for errors without starting the pipeline.

Reports unknown keys, invalid value types, modes, step types and error
handlers, unknown master items and dependency cycles.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runItemsValidate,
}

var itemsShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "List the items of an item file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runItemsShow,
}

var itemsJSON bool // Output as JSON

func init() {
	itemsShowCmd.Flags().BoolVar(&itemsJSON, "json", false, "Output the items as JSON")
	itemsCmd.AddCommand(itemsValidateCmd)
	itemsCmd.AddCommand(itemsShowCmd)
	rootCmd.AddCommand(itemsCmd)
}

// itemsPath returns the file named on the command line or the configured one.
func itemsPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	path := config.Get().Items.ResolveItemsFile(baseDir())
	if path == "" {
		return "", fmt.Errorf("no item file configured, pass one as an argument")
	}
	return path, nil
}

// loadItems loads and builds the items of path. The caller must release the
// returned definitions.
func loadItems(path string) (*itemconfig.File, []*preproc.Item, error) {
	f, err := itemconfig.Load(path)
	if err != nil {
		return nil, nil, err
	}
	items, err := itemconfig.Build(f)
	if err != nil {
		return nil, nil, err
	}
	return f, items, nil
}

func releaseItems(items []*preproc.Item) {
	for _, item := range items {
		item.Def.Release()
	}
}

func runItemsValidate(cmd *cobra.Command, args []string) error {
	path, err := itemsPath(args)
	if err != nil {
		return err
	}
	_, items, err := loadItems(path)
	if err != nil {
		return err
	}
	defer releaseItems(items)

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items OK\n", path, len(items))
	return nil
}

func runItemsShow(cmd *cobra.Command, args []string) error {
	path, err := itemsPath(args)
	if err != nil {
		return err
	}
	f, items, err := loadItems(path)
	if err != nil {
		return err
	}
	defer releaseItems(items)

	if itemsJSON {
		return printJSON(cmd.OutOrStdout(), f)
	}
	printItemsTable(cmd.OutOrStdout(), f, items)
	return nil
}

func printItemsTable(w io.Writer, f *itemconfig.File, items []*preproc.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items")
		return
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		ic, _ := f.Find(item.ID)
		def := item.Def

		steps := make([]string, 0, len(def.Steps()))
		for _, st := range def.Steps() {
			steps = append(steps, st.Type.String())
		}
		master := "-"
		if ic.Master != 0 {
			master = strconv.FormatUint(ic.Master, 10)
		}
		rows = append(rows, []string{
			strconv.FormatUint(item.ID, 10),
			ic.Name,
			def.ValueType().String(),
			def.Mode().String(),
			master,
			strconv.Itoa(len(def.Dependents())),
			strings.Join(steps, ", "),
		})
	}
	renderTable(w, []string{"Item", "Name", "Type", "Mode", "Master", "Deps", "Steps"}, rows)
}
