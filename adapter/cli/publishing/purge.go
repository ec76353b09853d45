package publishing

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	purgeTarget     string
	purgeProfileKey string
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove a profile's pending and deleted slots",
	Long: `Examples:
  pubkeeperctl profile purge --target t1 --profile weekly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		if purgeTarget == "" || purgeProfileKey == "" {
			return fmt.Errorf("--target and --profile are required")
		}
		if err := eng.PurgeProfile(cmd.Context(), purgeTarget, purgeProfileKey); err != nil {
			return fmt.Errorf("failed to purge %s/%s: %w", purgeTarget, purgeProfileKey, err)
		}
		fmt.Printf("purged %s/%s\n", purgeTarget, purgeProfileKey)
		return nil
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeTarget, "target", "", "target id (required)")
	purgeCmd.Flags().StringVar(&purgeProfileKey, "profile", "", "profile key (required)")
}
