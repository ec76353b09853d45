package publishing

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

var (
	updateTarget     string
	updateProfileKey string
	updatePatterns   []string
	updateTimezone   string
	updateDuration   time.Duration

	updateEnabled       bool
	updateTiming        string
	updateDaysOffset    int
	updateHoursOffset   int
	updateMinutesOffset int
	updateMonthlyDay    int
	updateMonthlyHour   int
	updateMonthlyMinute int
	updateRepeat        string
	updateRepeatCount   int
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Create or replace a profile's automation settings",
	Long: `Pushes a profile's recurrence patterns and automation settings
into the engine, which recomputes that profile's pending slots.

Examples:
  pubkeeperctl profile update --target t1 --profile weekly \
    --pattern "DTSTART:20260101T100000Z\nRRULE:FREQ=WEEKLY" \
    --timezone UTC --enabled --timing before --days-offset 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		if updateTarget == "" || updateProfileKey == "" {
			return fmt.Errorf("--target and --profile are required")
		}

		profile := domain.Profile{
			TargetID:   updateTarget,
			ProfileKey: updateProfileKey,
			Patterns:   updatePatterns,
			Timezone:   updateTimezone,
			Duration:   updateDuration,
			Automation: domain.AutomationSettings{
				Enabled:       updateEnabled,
				Timing:        domain.TimingMode(updateTiming),
				DaysOffset:    updateDaysOffset,
				HoursOffset:   updateHoursOffset,
				MinutesOffset: updateMinutesOffset,
				MonthlyDay:    updateMonthlyDay,
				MonthlyHour:   updateMonthlyHour,
				MonthlyMinute: updateMonthlyMinute,
				Repeat:        domain.RepeatMode(updateRepeat),
				RepeatCount:   updateRepeatCount,
			},
		}

		if err := eng.UpdatePendingForProfile(cmd.Context(), updateTarget, updateProfileKey, profile); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		fmt.Printf("profile %s/%s updated\n", updateTarget, updateProfileKey)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateTarget, "target", "", "target id (required)")
	updateCmd.Flags().StringVar(&updateProfileKey, "profile", "", "profile key (required)")
	updateCmd.Flags().StringSliceVar(&updatePatterns, "pattern", nil, "RFC 5545 DTSTART/RRULE pattern, repeatable")
	updateCmd.Flags().StringVar(&updateTimezone, "timezone", "UTC", "IANA timezone of the patterns")
	updateCmd.Flags().DurationVar(&updateDuration, "duration", time.Hour, "event duration")

	updateCmd.Flags().BoolVar(&updateEnabled, "enabled", false, "enable automation for this profile")
	updateCmd.Flags().StringVar(&updateTiming, "timing", string(domain.TimingModeBefore), "before|after|monthly")
	updateCmd.Flags().IntVar(&updateDaysOffset, "days-offset", 0, "before-mode days offset")
	updateCmd.Flags().IntVar(&updateHoursOffset, "hours-offset", 0, "before-mode hours offset")
	updateCmd.Flags().IntVar(&updateMinutesOffset, "minutes-offset", 0, "before-mode minutes offset")
	updateCmd.Flags().IntVar(&updateMonthlyDay, "monthly-day", 1, "monthly-mode anchor day (1-31)")
	updateCmd.Flags().IntVar(&updateMonthlyHour, "monthly-hour", 0, "monthly-mode anchor hour")
	updateCmd.Flags().IntVar(&updateMonthlyMinute, "monthly-minute", 0, "monthly-mode anchor minute")
	updateCmd.Flags().StringVar(&updateRepeat, "repeat", string(domain.RepeatModeIndefinite), "indefinite|count")
	updateCmd.Flags().IntVar(&updateRepeatCount, "repeat-count", 0, "slot count when --repeat count")
}
