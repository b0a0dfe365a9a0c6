package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/funnel-messaging/internal/config"
	"github.com/LeventeLantos/funnel-messaging/internal/funnel"
	"github.com/LeventeLantos/funnel-messaging/internal/logging"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "funnel",
		Short:         "Scheduled funnel messaging for a Telegram audience",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTickCmd(),
		newStageCmd(),
	)
	return root
}

// app is what every command that touches the database needs.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *repo.SQLStore
	funnels *funnel.Config
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadAll()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log)

	funnels, err := loadFunnels(cfg.Funnels.File, log)
	if err != nil {
		return nil, err
	}

	store, err := repo.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, store: store, funnels: funnels}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// loadFunnels reads the funnels file. A missing file falls back to the
// built-in defaults; a malformed one is an error.
func loadFunnels(path string, log zerolog.Logger) (*funnel.Config, error) {
	cfg, err := funnel.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("funnels file not found, using built-in defaults")
		return funnel.Default(), nil
	}
	return cfg, err
}

// checkTimezones rejects a scheduler zone that differs from the funnels
// file zone. Due times are read in one and ticks fire in the other, so a
// mismatch would shift every local time.
func checkTimezones(cfg *config.Config, funnels *funnel.Config) error {
	sched := cfg.Scheduler.Location
	if sched == nil || funnels.Location == nil {
		return nil
	}
	if sched.String() != funnels.Location.String() {
		return fmt.Errorf("timezone mismatch: SCHED_TIMEZONE is %s but the funnels file uses %s",
			sched, funnels.Location)
	}
	return nil
}
