package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"ArxivMind/internal/app"
	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
	"ArxivMind/internal/infrastructure/storage"
	"ArxivMind/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := newCLI(cfg, logger).RunContext(ctx, os.Args); err != nil {
		logger.Error("arxivmind stopped", "error", err)
		os.Exit(1)
	}
}

func newCLI(cfg config.Config, logger *slog.Logger) *cli.App {
	withApp := func(fn func(*cli.Context, *app.Application) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			application, err := app.New(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()
			return fn(c, application)
		}
	}

	return &cli.App{
		Name:  "arxivmind",
		Usage: "daily arXiv digest: fetch, analyze and announce new papers",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "execute one pipeline run now",
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					run, err := a.Run(c.Context)
					logger.Info("run finished",
						"run_id", run.ID,
						"outcome", run.Outcome,
						"fetched", run.Fetched,
						"attempted", run.Attempted,
						"succeeded", run.Succeeded,
						"notified", run.Notified,
					)
					return err
				}),
			},
			{
				Name:  "serve",
				Usage: "run the pipeline daily and expose metrics",
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					return a.Serve(c.Context)
				}),
			},
			{
				Name:  "fetch",
				Usage: "store new papers without analyzing them",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "topic", Value: cfg.Pipeline.Topic, Usage: "arXiv category"},
					&cli.IntFlag{Name: "max", Value: cfg.Pipeline.MaxResults, Usage: "maximum candidates to inspect"},
				},
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					n, err := a.Fetcher.FetchNew(c.Context, c.String("topic"), c.Int("max"))
					if err != nil {
						return err
					}
					logger.Info("fetch finished", "created", n)
					return nil
				}),
			},
			{
				Name:  "analyze",
				Usage: "analyze pending papers concurrently",
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					stats, err := a.Analyzer.RunPending(c.Context)
					if err != nil {
						return err
					}
					logger.Info("analysis finished",
						"attempted", stats.Attempted,
						"succeeded", stats.Succeeded,
						"failed", stats.Failed,
						"no_text", stats.NoText,
					)
					return nil
				}),
			},
			{
				Name:  "batch",
				Usage: "drive the batch analysis flow",
				Subcommands: []*cli.Command{
					{
						Name:  "submit",
						Usage: "submit pending papers as one batch job",
						Action: withApp(func(c *cli.Context, a *app.Application) error {
							jobID, submitted, err := a.Batch.Submit(c.Context)
							if err != nil {
								return err
							}
							if !submitted {
								logger.Info("nothing to submit")
								return nil
							}
							logger.Info("batch submitted", "job_id", jobID)
							return nil
						}),
					},
					{
						Name:  "poll",
						Usage: "poll a batch job, or every open job, and apply finished results",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "job", Usage: "batch job id"},
						},
						Action: withApp(func(c *cli.Context, a *app.Application) error {
							if jobID := c.String("job"); jobID != "" {
								done, err := a.Batch.PollAndReconcile(c.Context, jobID)
								if err != nil {
									return err
								}
								logger.Info("batch polled", "job_id", jobID, "reconciled", done)
								return nil
							}
							n, err := a.Batch.ReconcileOpen(c.Context)
							if err != nil {
								return err
							}
							logger.Info("open batch jobs reconciled", "count", n)
							return nil
						}),
					},
				},
			},
			{
				Name:  "requeue",
				Usage: "return failed or stuck papers to pending",
				Flags: []cli.Flag{
					&cli.Int64SliceFlag{Name: "id", Usage: "paper id, repeatable"},
					&cli.StringFlag{Name: "status", Usage: "requeue every paper in this status (failed or processing)"},
				},
				Action: withApp(func(c *cli.Context, a *app.Application) error {
					ids := c.Int64Slice("id")
					status := c.String("status")
					var (
						n   int
						err error
					)
					switch {
					case len(ids) > 0:
						n, err = a.Requeuer.Requeue(c.Context, ids)
					case status != "":
						n, err = a.Requeuer.RequeueStatus(c.Context, domain.Status(status))
					default:
						return errors.New("requeue needs --id or --status")
					}
					if err != nil {
						return err
					}
					logger.Info("papers requeued", "count", n)
					return nil
				}),
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Action: func(c *cli.Context) error {
					return storage.Migrate(c.Context, cfg.Database.Driver, cfg.Database.DSN, logger.With("component", "migrate"))
				},
			},
			{
				Name:  "config",
				Usage: "print the effective configuration",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprint(c.App.Writer, cfg.String())
					return err
				},
			},
		},
	}
}
