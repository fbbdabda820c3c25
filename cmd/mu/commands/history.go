package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit      int
		unit       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent operations",
		Long: `List the most recent build, deploy and rebuild operations, newest first.

History is recorded in .mu/history.db unless history.enabled is false.`,
		Example: `  # Show the last 20 operations
  mu history

  # Show the last 5 operations of one function
  mu history --unit backend --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if _, err := project.Require(s.dir); err != nil {
				return err
			}
			if s.history == nil {
				return engine.NewInvalidError("operation history is disabled", nil).
					WithOperation("history")
			}

			records, err := s.history.ListOperations(cmd.Context(), unit, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Println("No operations recorded yet.")
				return nil
			}
			fmt.Println(renderHistory(records))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", stores.DefaultListLimit, "maximum number of operations to show")
	cmd.Flags().StringVar(&unit, "unit", "", "only show operations of this unit")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

// renderHistory formats records as a table.
func renderHistory(records []*engine.OperationRecord) string {
	header := lipgloss.NewStyle().Bold(true)
	failed := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "UNIT", "OPERATION", "STATUS", "DURATION", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row >= 0 && row < len(records) && records[row].Status == engine.OperationFailed:
				return failed
			default:
				return lipgloss.NewStyle()
			}
		})

	for _, rec := range records {
		errText := ""
		if rec.Error != nil {
			errText = *rec.Error
		}
		t.Row(
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Unit,
			string(rec.Kind),
			string(rec.Status),
			rec.Duration.Round(time.Millisecond).String(),
			truncate(errText, 60),
		)
	}
	return t.String() + "\n" + strconv.Itoa(len(records)) + " operation(s)"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
