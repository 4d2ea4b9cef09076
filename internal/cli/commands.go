package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/acme/outbound-call-queue/internal/domain"
)

func newProcessCommand(s *state) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Claim and dispatch due entries once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit == 0 {
				limit = s.container.Config.Scheduler.MaxBatchSize
			}
			res, err := s.container.Processor.Process(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries to claim (defaults to scheduler.max_batch_size)")
	return cmd
}

func newRetryCommand(s *state) *cobra.Command {
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reschedule failed entries that have attempts left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAttempts == 0 {
				maxAttempts = s.container.Config.Retry.MaxAttempts
			}
			res, err := s.container.Retry.RescheduleFailed(cmd.Context(), maxAttempts, s.container.Backoff)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt budget (defaults to retry.max_attempts)")
	return cmd
}

func newStatusCommand(s *state) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show whether the calling window is open",
		Aliases: []string{"window"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := s.container.Policy.CurrentStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}

func newCountsCommand(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show queue entry counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := s.container.Repos.Queue.CountsByStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := make(map[domain.EntryStatus]int64, len(domain.EntryStatuses))
			for _, status := range domain.EntryStatuses {
				out[status] = counts[status]
			}
			return printJSON(cmd, out)
		},
	}
}

type launchSummary struct {
	CampaignID string        `json:"campaign_id"`
	Scheduled  int           `json:"scheduled"`
	Skipped    int           `json:"skipped"`
	Skips      []domain.Skip `json:"skips,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

func newLaunchCommand(s *state) *cobra.Command {
	var (
		contacts    []string
		limit       int
		prefix      string
		enabledOnly bool
	)
	cmd := &cobra.Command{
		Use:   "launch <campaign-id>",
		Short: "Launch a campaign over matching contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid campaign id %q", args[0])
			}
			criteria := domain.ContactCriteria{Limit: limit, PhonePrefix: prefix, EnabledOnly: enabledOnly}
			for _, raw := range contacts {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid contact id %q", raw)
				}
				criteria.IDs = append(criteria.IDs, id)
			}

			res, err := s.container.Launcher.Launch(cmd.Context(), campaignID, criteria)
			if err != nil {
				return err
			}
			return printJSON(cmd, launchSummary{
				CampaignID: res.CampaignID.String(),
				Scheduled:  res.Scheduled,
				Skipped:    res.Skipped,
				Skips:      res.Skips,
				Errors:     res.Errors,
			})
		},
	}
	cmd.Flags().StringArrayVar(&contacts, "contact", nil, "contact id to include (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum contacts (capped at the campaign batch size)")
	cmd.Flags().StringVar(&prefix, "phone-prefix", "", "only contacts whose number starts with this prefix")
	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "skip scheduling-disabled contacts at selection time")
	return cmd
}
