package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/technews/internal/admin"
	"github.com/deusflow/technews/internal/app"
	"github.com/deusflow/technews/internal/config"
	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/storage"
)

func main() {
	cliApp := &cli.App{
		Name:  "technews",
		Usage: "tech news channel publisher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment, if it exists",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		Before: func(c *cli.Context) error {
			if path := c.String("env-file"); path != "" {
				if _, err := os.Stat(path); err == nil {
					if err := godotenv.Load(path); err != nil {
						return fmt.Errorf("load %s: %w", path, err)
					}
				}
			}
			logger.Init(c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the publisher with its schedules and control surfaces",
				Action: runService,
			},
			{
				Name:   "scores",
				Usage:  "fetch current candidates and print their score breakdown",
				Action: printScores,
			},
			{
				Name:   "optimal-hours",
				Usage:  "recompute and print the preferred publishing hours",
				Action: printOptimalHours,
			},
			{
				Name:   "sweep",
				Usage:  "remove records older than RETENTION_DAYS",
				Action: runSweep,
			},
			{
				Name:   "check-store",
				Usage:  "verify the configured store is reachable and writable",
				Action: checkStore,
			},
		},
		DefaultCommand: "run",
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func loadApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return app.New(c.Context, cfg, logger.Component("app"))
}

func runService(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := &admin.Service{
		Engine:     a.Orchestrator,
		Engagement: a.Store,
		Cadence:    a.Cadence,
		Events:     a.Events,
		Metrics:    a.Metrics,
		Notifier:   a.Notifier,
		Location:   a.Config.Location(),
		Log:        logger.Component("admin"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	g.Go(func() error { return admin.NewBot(a.Telegram, a.Config.AdminChatID, svc).Run(gctx) })
	if a.Config.EnableHTTPMonitoring {
		srv := admin.NewHTTPServer(":"+a.Config.MonitoringPort, svc)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

func printScores(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	scored, err := a.Orchestrator.Scores(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tCATEGORY\tURGENT\tBASE\tSENT\tEVENT\tRECENCY\tSOURCE\tLENGTH\tIMPORT\tTITLE")
	for _, s := range scored {
		b := s.Breakdown
		fmt.Fprintf(w, "%.2f\t%s\t%v\t%.2f\t%.2f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%s\n",
			s.Score, s.Category, s.Urgent, b.Base, b.Sentiment, b.Event, b.Recency, b.Source, b.Length, b.Importance, s.Title)
	}
	return w.Flush()
}

func printOptimalHours(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Cadence.Refresh(c.Context)
	if err != nil {
		return err
	}
	for _, h := range p.Hours {
		fmt.Printf("%02d:00 - %02d:00\n", h, (h+1)%24)
	}
	if p.Default {
		fmt.Println("(no engagement history yet, default hours)")
	}
	return nil
}

func runSweep(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Sweep(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d publications, %d engagement samples, %d events\n",
		res.Publications, res.Engagement, res.Events)
	return nil
}

func checkStore(c *cli.Context) error {
	cfg, _ := config.Load()
	if err := cfg.ValidateStore(); err != nil {
		return err
	}

	fmt.Printf("🔌 Checking %s store at %s\n", cfg.StoreDriver, maskPassword(cfg.DatabaseURL))
	st, err := app.OpenStore(c.Context, cfg, logger.Component("storage"))
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Println("✅ Connected")

	ctx := c.Context
	n, err := st.CountPublishedSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("📊 Publications in the last 24h: %d\n", n)

	if last, ok, err := st.LastPublication(ctx); err != nil {
		return err
	} else if ok {
		fmt.Printf("🕒 Last publication: %s (%s)\n", last.Title, last.PublishedAt.Format("2006-01-02 15:04:05"))
	}

	probe := storage.PublicationRecord{ID: "check-store-probe", Title: "probe", PublishedAt: time.Unix(0, 0)}
	if err := st.Record(ctx, probe); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	ok, err := st.IsPublished(ctx, probe.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("probe record not found after write")
	}
	if _, err := st.RetentionSweep(ctx, time.Unix(1, 0)); err != nil {
		return fmt.Errorf("remove probe: %w", err)
	}
	fmt.Println("✅ Store is ready to use")
	return nil
}

func maskPassword(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:30] + "***" + dsn[len(dsn)-20:]
	}
	return dsn
}
