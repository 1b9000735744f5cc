package main

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/database"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/server"
	"github.com/customeros/mailsync/services"
	"github.com/customeros/mailsync/services/jobs"
)

func main() {
	app := &cli.App{
		Name:  "mailsync",
		Usage: "Gmail mailbox sync engine",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
			{
				Name:   "sync",
				Usage:  "Run one sync of an account in the foreground",
				Flags:  []cli.Flag{accountFlag()},
				Action: syncOnce(enum.SyncReasonManual, false),
			},
			{
				Name:   "resync",
				Usage:  "Drop the cursors of an account and run a full sync in the foreground",
				Flags:  []cli.Flag{accountFlag()},
				Action: syncOnce(enum.SyncReasonResync, true),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func accountFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "account",
		Aliases:  []string{"a"},
		Usage:    "gmail account id",
		Required: true,
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("config is empty")
	}
	return cfg, nil
}

func migrate(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mailsyncDB, err := database.InitMailsyncDatabase(cfg.MailsyncDatabaseConfig)
	if err != nil {
		return err
	}

	if err := repository.MigrateMailsyncDB(cfg.MailsyncDatabaseConfig, mailsyncDB); err != nil {
		return errors.Wrap(err, "database migration failed")
	}
	log.Println("Database migration completed successfully")
	return nil
}

func serve(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mailsyncDB, err := database.InitMailsyncDatabase(cfg.MailsyncDatabaseConfig)
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailsync starting up...")

	srv, err := server.NewServer(cfg, mailsyncDB)
	if err != nil {
		return errors.Wrap(err, "server setup failed")
	}
	return srv.Run()
}

// syncOnce runs a job through the same admission and executor as the workers, so it
// never overlaps a queued sync of the same account.
func syncOnce(reason enum.SyncReason, reset bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		accountID := c.String("account")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		mailsyncDB, err := database.InitMailsyncDatabase(cfg.MailsyncDatabaseConfig)
		if err != nil {
			return err
		}

		appLogger := logger.NewAppLogger(cfg.Logger)
		appLogger.InitLogger()
		defer func() { _ = appLogger.Sync() }()

		ctx := c.Context
		if ctx == nil {
			ctx = context.Background()
		}

		svcs, err := services.InitServices(ctx, cfg, appLogger, repository.InitRepositories(mailsyncDB))
		if err != nil {
			return err
		}
		defer svcs.Close()

		admitted, err := svcs.JobDedup.TryAdmit(ctx, accountID)
		if err != nil {
			return err
		}
		if !admitted {
			return errors.Errorf("a sync of account %s is already in progress", accountID)
		}

		if reset {
			if err := svcs.SyncService.ResetCursor(ctx, accountID); err != nil {
				_ = svcs.JobDedup.Release(ctx, accountID)
				return err
			}
		}

		return svcs.JobExecutor.Run(ctx, dto.SyncAccountRequested{
			AccountID: accountID,
			DedupKey:  jobs.DedupKey(accountID),
			Reason:    reason,
		})
	}
}
