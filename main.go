package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	// .env необязателен, переменные окружения имеют приоритет
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args, os.Stdout); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var loggerCfg loggerFlags
	logger := slog.Default()

	app := &cli.Command{
		Name:    "medicine-bot",
		Usage:   "Telegram bot that reminds to take medicines and tracks what is left",
		Version: version,
		Flags:   loggerCfg.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			l, err := loggerCfg.Configure(os.Stderr)
			if err != nil {
				return ctx, err
			}
			logger = l
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdServe(&logger),
			cmdMigrate(&logger),
			cmdSweep(&logger, out),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logger.Error("failed to run app", "error", err)
		return err
	}
	return nil
}

func cmdServe(logger **slog.Logger) *cli.Command {
	var storageCfg storageFlags
	var scheduleCfg scheduleFlags
	var botCfg botFlags

	flags := slices.Concat(storageCfg.Flags(), scheduleCfg.Flags(), botCfg.Flags())

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bot, the reminder scheduler and the web app API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := *logger

			if err := botCfg.Validate(); err != nil {
				return err
			}
			schedule, appCfg, err := scheduleCfg.Configure(c)
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}

			store, err := storageCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize storage")
			}
			defer store.Close()

			resolver := NewLatLongResolver(botCfg.resolverTimeout)
			bot, err := NewBot(botCfg.token, store, resolver, appCfg.Units(), botCfg.adminID, log)
			if err != nil {
				return err
			}
			scheduler := NewScheduler(store, bot, log, schedule)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return bot.HandleUpdates(ctx) })
			g.Go(func() error { return scheduler.Run(ctx) })
			if botCfg.webPort != "" {
				handler := NewWebHandler(store, "web", log)
				g.Go(func() error { return serveWeb(ctx, botCfg.webPort, handler, log) })
			}

			log.Info("Bot started", "storage", storageCfg.backend, "version", version)
			return g.Wait()
		},
	}
}

func cmdMigrate(logger **slog.Logger) *cli.Command {
	var storageCfg storageFlags

	return &cli.Command{
		Name:  "migrate",
		Usage: "Create database tables",
		Flags: storageCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			// таблицы создаются при открытии хранилища
			store, err := storageCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to migrate storage")
			}
			store.Close()

			(*logger).Info("Migration completed", "storage", storageCfg.backend)
			return nil
		},
	}
}

func cmdSweep(logger **slog.Logger, out io.Writer) *cli.Command {
	var storageCfg storageFlags
	var scheduleCfg scheduleFlags
	var botCfg botFlags

	flags := slices.Concat(storageCfg.Flags(), scheduleCfg.Flags(), botCfg.Flags())

	return &cli.Command{
		Name:  "sweep",
		Usage: "Run a single reminder sweep for the current minute and exit",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := *logger

			if err := botCfg.Validate(); err != nil {
				return err
			}
			schedule, _, err := scheduleCfg.Configure(c)
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration")
			}

			store, err := storageCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize storage")
			}
			defer store.Close()

			bot, err := NewBot(botCfg.token, store, nil, nil, botCfg.adminID, log)
			if err != nil {
				return err
			}

			report, err := NewScheduler(store, bot, log, schedule).Sweep(ctx)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(out, "sweep %s at %s: medicines=%d due=%d",
				report.ID, report.At.Format("2006-01-02 15:04 UTC"), report.Medicines, report.Due)
			for _, o := range []Outcome{OutcomeReminded, OutcomeDepleted, OutcomeSendFailed, OutcomeVanished, OutcomeExhausted, OutcomeStoreError} {
				if n := report.Outcomes[o]; n > 0 {
					_, _ = fmt.Fprintf(out, " %s=%d", o, n)
				}
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}
}
