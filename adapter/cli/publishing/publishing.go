// Package publishing wires the publishing engine's control API (profile
// update, post-now/reschedule/cancel, restore, purge, list) to the
// pubkeeperctl command line. It does not depend on any global app
// singleton: SetEngine must be called before Cmd's RunE handlers fire.
package publishing

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cynacedia/pubkeeper/internal/publishing/application"
)

// Cmd is the "profile" command group.
var Cmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"pub"},
	Short:   "Manage publication profiles and their pending slots",
	Long: `Update automation profiles and act on the pending slots they
generate.

Examples:
  pubkeeperctl profile update --target t1 --profile weekly --enabled
  pubkeeperctl profile list --target t1
  pubkeeperctl profile post-now <slot-id>
  pubkeeperctl profile restore --target t1 --profile weekly`,
}

var eng *application.Engine

// SetEngine supplies the running Engine every subcommand's RunE dispatches
// to. Must be called once during pubkeeperctl startup.
func SetEngine(e *application.Engine) {
	eng = e
}

func requireEngine() error {
	if eng == nil {
		return fmt.Errorf("publishing engine not configured")
	}
	return nil
}

func init() {
	Cmd.AddCommand(updateCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(postNowCmd)
	Cmd.AddCommand(rescheduleCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(restoreCmd)
	Cmd.AddCommand(purgeCmd)
}
