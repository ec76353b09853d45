package publishing

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cynacedia/pubkeeper/internal/publishing/application/commands"
)

func missedActionCmd(use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <slot-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEngine(); err != nil {
				return err
			}
			outcome, err := eng.ActOnMissed(cmd.Context(), args[0], action)
			if err != nil {
				return fmt.Errorf("failed to %s %s: %w", use, args[0], err)
			}
			fmt.Printf("%s: %s\n", args[0], outcome)
			return nil
		},
	}
}

var postNowCmd = missedActionCmd("post-now", commands.ActionPostNow, "Publish a missed slot immediately")
var rescheduleCmd = missedActionCmd("reschedule", commands.ActionReschedule, "Reschedule a missed slot (its before-mode publish time if still ahead, else five minutes from now)")
var cancelCmd = missedActionCmd("cancel", commands.ActionCancel, "Cancel a missed slot")
