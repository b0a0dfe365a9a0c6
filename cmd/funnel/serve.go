package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/LeventeLantos/funnel-messaging/internal/api"
	"github.com/LeventeLantos/funnel-messaging/internal/bot"
	"github.com/LeventeLantos/funnel-messaging/internal/cache"
	"github.com/LeventeLantos/funnel-messaging/internal/delivery"
	"github.com/LeventeLantos/funnel-messaging/internal/funnel"
	"github.com/LeventeLantos/funnel-messaging/internal/scheduler"
	"github.com/LeventeLantos/funnel-messaging/internal/service"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the chat bot and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
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
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	log := a.log
	cfg := a.cfg

	dc, closeCache, err := openCache(ctx, a)
	if err != nil {
		return err
	}
	defer closeCache()

	tb, err := botIfConfigured(a)
	if err != nil {
		return err
	}

	client, err := deliveryClient(a, tb)
	if err != nil {
		return err
	}

	sender := service.NewSender(client, service.SenderOptions{
		Workers:    cfg.Scheduler.Workers,
		RatePerSec: cfg.Scheduler.RatePerSec,
		Timeout:    cfg.Scheduler.DeliveryTimeout,
	})
	disp := service.NewDispatcher(a.store, a.store, sender, log).WithCache(dc)

	schedule, err := scheduler.MinuteSchedule(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(schedule, func(ctx context.Context) error {
		_, err := disp.Tick(ctx)
		return err
	}, log)
	if err != nil {
		return err
	}

	orch := funnel.New(a.funnels, a.store, a.store, log)

	handler := api.NewHandler(api.Deps{
		Scheduler:  sched,
		Schedules:  a.store,
		Recipients: a.store,
		Content:    a.store,
		Funnels:    orch,
		Log:        log,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Logging(log, api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if tb != nil {
		bot.New(orch, a.store, a.store, a.store, cfg.IsAdmin, log).
			Register(gctx, tb, cfg.Scheduler.DeliveryTimeout)
		g.Go(func() error {
			log.Info().Msg("telegram polling started")
			tb.Start()
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	sched.Start()
	log.Info().
		Str("db", cfg.Database.Driver).
		Str("delivery", cfg.Delivery.Driver).
		Str("tz", cfg.Scheduler.Timezone).
		Int("workers", cfg.Scheduler.Workers).
		Bool("redis", cfg.Redis.Enabled).
		Msg("funnel messaging started")

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sched.Stop()
		if tb != nil {
			tb.Stop()
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

func openCache(ctx context.Context, a *app) (cache.DeliveryCache, func(), error) {
	if !a.cfg.Redis.Enabled {
		return cache.Nop{}, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	return cache.NewRedisCache(rdb, a.cfg.Redis.TTL), func() { _ = rdb.Close() }, nil
}

// botIfConfigured builds the bot when a token is set. The webhook driver can
// run without one, in which case there is no chat front end either.
func botIfConfigured(a *app) (*tele.Bot, error) {
	if a.cfg.Telegram.Token == "" {
		return nil, nil
	}
	tb, err := delivery.NewBot(a.cfg.Telegram.Token, a.cfg.Telegram.PollTimeout, a.cfg.Scheduler.DeliveryTimeout)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return tb, nil
}

func deliveryClient(a *app, tb *tele.Bot) (delivery.Client, error) {
	switch a.cfg.Delivery.Driver {
	case "telegram":
		if tb == nil {
			return nil, errors.New("telegram delivery needs TELEGRAM_BOT_TOKEN")
		}
		return delivery.NewTelegramClient(tb), nil
	case "webhook":
		return delivery.NewWebhookClient(a.cfg.Delivery.WebhookURL, a.cfg.Scheduler.DeliveryTimeout), nil
	default:
		return nil, fmt.Errorf("unknown delivery driver %q", a.cfg.Delivery.Driver)
	}
}
