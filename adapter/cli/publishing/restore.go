package publishing

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	restoreTarget     string
	restoreProfileKey string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a profile's soft-deleted slots back to pending",
	Long: `Examples:
  pubkeeperctl profile restore --target t1 --profile weekly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		if restoreTarget == "" || restoreProfileKey == "" {
			return fmt.Errorf("--target and --profile are required")
		}
		n, err := eng.RestoreDeleted(cmd.Context(), restoreTarget, restoreProfileKey)
		if err != nil {
			return fmt.Errorf("failed to restore %s/%s: %w", restoreTarget, restoreProfileKey, err)
		}
		fmt.Printf("restored %d slot(s)\n", n)
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreTarget, "target", "", "target id (required)")
	restoreCmd.Flags().StringVar(&restoreProfileKey, "profile", "", "profile key (required)")
}
