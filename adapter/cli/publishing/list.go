package publishing

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listTarget string

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List a target's pending slots",
	Long: `Lists pending slots for a target, soonest event first, truncated
to the store's configured display limit.

Examples:
  pubkeeperctl profile list --target t1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		if listTarget == "" {
			return fmt.Errorf("--target is required")
		}

		recs, err := eng.GetPending(cmd.Context(), listTarget)
		if err != nil {
			return fmt.Errorf("failed to list pending slots: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("no pending slots.")
			return nil
		}

		fmt.Printf("Pending slots for %s (%d total)\n", listTarget, len(recs))
		fmt.Println(strings.Repeat("-", 70))
		for _, rec := range recs {
			fmt.Printf("%-40s  %-10s  %s\n", rec.ID, rec.Status, rec.EventStartsAt.Format("2006-01-02 15:04 MST"))
			fmt.Printf("    publish at: %s\n", rec.ScheduledPublishTime.Format("2006-01-02 15:04 MST"))
		}

		missed, queued, err := eng.GetMissedQueuedCount(cmd.Context(), listTarget)
		if err != nil {
			return fmt.Errorf("failed to get missed/queued counts: %w", err)
		}
		fmt.Println(strings.Repeat("-", 70))
		fmt.Printf("missed: %d  queued: %d\n", missed, queued)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listTarget, "target", "", "target id (required)")
}
