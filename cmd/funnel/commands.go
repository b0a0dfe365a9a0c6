package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/funnel-messaging/internal/funnel"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/service"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info().Str("db", a.cfg.Database.Driver).Msg("schema up to date")
			return nil
		},
	}
}

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one dispatcher tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd.Context(), cmd)
		},
	}
}

func runTick(ctx context.Context, cmd *cobra.Command) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.RequireDelivery(); err != nil {
		return err
	}
	if err := checkTimezones(a.cfg, a.funnels); err != nil {
		return err
	}

	dc, closeCache, err := openCache(ctx, a)
	if err != nil {
		return err
	}
	defer closeCache()

	tb, err := botIfConfigured(a)
	if err != nil {
		return err
	}
	dclient, err := deliveryClient(a, tb)
	if err != nil {
		return err
	}

	sender := service.NewSender(dclient, service.SenderOptions{
		Workers:    a.cfg.Scheduler.Workers,
		RatePerSec: a.cfg.Scheduler.RatePerSec,
		Timeout:    a.cfg.Scheduler.DeliveryTimeout,
	})
	res, err := service.NewDispatcher(a.store, a.store, sender, a.log).WithCache(dc).Tick(ctx)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tick %s at %s\n", res.ID, res.At.Format(time.RFC3339))
	fmt.Fprintf(out, "personal: due=%d sent=%d unreachable=%d failed=%d\n",
		res.Personal.Due, res.Personal.Sent, res.Personal.Unreachable, res.Personal.Failed)
	if b := res.Broadcast; b != nil {
		fmt.Fprintf(out, "broadcast #%d: recipients=%d sent=%d unreachable=%d failed=%d\n",
			b.JobID, b.Recipients, b.Sent, b.Unreachable, b.Failed)
	}
	return err
}

func newStageCmd() *cobra.Command {
	var (
		at          string
		funnelsFile string
	)

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Print the stage active at a moment and its funnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadFunnels(funnelsFile, zerolog.Nop())
			if err != nil {
				return err
			}

			when, err := model.ParseDueTime(at, cfg.Location, time.Now())
			if err != nil {
				return err
			}

			printStage(cmd, cfg, when)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", `moment to resolve, "2006-01-02 15:04" or RFC3339 (default now)`)
	cmd.Flags().StringVar(&funnelsFile, "funnels", "funnels.yaml", "funnels definition file")
	return cmd
}

func printStage(cmd *cobra.Command, cfg *funnel.Config, when time.Time) {
	out := cmd.OutOrStdout()
	orch := funnel.New(cfg, nil, nil, zerolog.Nop())

	fmt.Fprintf(out, "at: %s\n", cfg.InZone(when).Format(model.DueTimeLayout))
	id, ok := orch.CurrentStage(when)
	if !ok {
		fmt.Fprintln(out, "stage: none")
		return
	}
	fmt.Fprintf(out, "stage: %s\n", id)
	for _, f := range orch.FunnelsFor(id) {
		fmt.Fprintf(out, "funnel: %s (segment %s, %d steps)\n", f.Label, f.Segment, len(f.Plan))
	}
}
