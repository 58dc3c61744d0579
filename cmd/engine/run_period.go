package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vedagro/backend/internal/app"
	"github.com/vedagro/backend/internal/jobs"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/period"
	"github.com/vedagro/backend/internal/queue"
	"github.com/vedagro/backend/internal/services/payout"
)

var runEnqueue bool

func init() {
	runPeriodCmd.Flags().BoolVar(&runEnqueue, "enqueue", false, "queue the run for the server's workers instead of running it here")
	rootCmd.AddCommand(runPeriodCmd)
}

var runPeriodCmd = &cobra.Command{
	Use:   "run-period BONUS_TYPE [PERIOD_KEY]",
	Short: "Pay one bonus type for one period",
	Long: `Pays MATCHING (ISO week key, e.g. 2026-W41) or REPURCHASE, ROYALTY,
MONTHLY_PURCHASE (month key, e.g. 2026-09). Without a key the most recently
closed period is used. A period that was already paid is reported and left alone.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bonusType := models.BonusType(strings.ToUpper(args[0]))
		if !bonusType.Valid() || bonusType == models.BonusWelcome {
			return fmt.Errorf("%w: %q", payout.ErrUnknownBonusType, args[0])
		}
		key := period.CurrentFor(bonusType, time.Now()).Key
		if len(args) == 2 {
			key = args[1]
		}
		ctx := cmd.Context()

		if runEnqueue {
			client, err := queue.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()
			jobID, err := jobs.EnqueueBonusRun(ctx, queue.NewRedisQueue(client, log), bonusType, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s as job %s\n", bonusType, key, jobID)
			return nil
		}

		db, err := openDB(cfg, log)
		if err != nil {
			return err
		}
		plans, err := loadPlanProvider()
		if err != nil {
			return err
		}
		svc := app.NewServices(db, plans, nil, log, cfg.Payout.RunBudget)

		run, err := svc.Payouts.RunPeriod(ctx, bonusType, key)
		if errors.Is(err, payout.ErrRunAlreadyCompleted) {
			if run, err = svc.Payouts.GetRun(ctx, bonusType, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s already paid: %d payouts, net %d\n", bonusType, key, run.PayoutCount, run.NetTotal)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %d payouts, gross %d, net %d\n",
			bonusType, key, run.Status, run.PayoutCount, run.GrossTotal, run.NetTotal)
		return nil
	},
}
