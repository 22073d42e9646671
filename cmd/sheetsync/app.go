package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/config"
	"github.com/zulandar/sheetsync/internal/db"
	"github.com/zulandar/sheetsync/internal/dialect"
	"github.com/zulandar/sheetsync/internal/logging"
	"github.com/zulandar/sheetsync/internal/notify"
	"github.com/zulandar/sheetsync/internal/notify/discord"
	"github.com/zulandar/sheetsync/internal/notify/slack"
	"github.com/zulandar/sheetsync/internal/pipeline"
	"github.com/zulandar/sheetsync/internal/reconcile"
	"github.com/zulandar/sheetsync/internal/scheduler"
	"github.com/zulandar/sheetsync/internal/source"
)

// app is the fully wired process: store, targets, source, pipeline and
// scheduler.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	targets  *dialect.Registry
	provider source.Provider
	pipe     *pipeline.Pipeline
	sched    *scheduler.Scheduler
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", dialect.Redact(cfg.Database.URL), err)
	}

	return cfg, gormDB, nil
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	policy, err := changes.ParseEmptySourcePolicy(cfg.Reconcile.EmptySource)
	if err != nil {
		return nil, err
	}
	targets := dialect.NewRegistry(cfg.Targets)
	pipe := pipeline.New(gormDB, targets, provider, pipeline.Options{
		Reconcile: reconcile.Options{
			BatchSize:    cfg.Reconcile.BatchSize,
			BatchDelay:   cfg.Reconcile.BatchDelay,
			PurgeOrphans: cfg.Reconcile.PurgeOrphans,
		},
		EmptySource:  policy,
		VerifyValues: cfg.Reconcile.VerifyValues,
	}, log.Named("pipeline"))

	notifier, err := newNotifier(cfg.Notify, log)
	if err != nil {
		targets.Close()
		return nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		targets.Close()
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Options{
		DB:              gormDB,
		Runner:          pipe,
		Logger:          log,
		Notifier:        notifier,
		Timeout:         cfg.Scheduler.Timeout,
		SweepInterval:   cfg.Scheduler.SweepInterval,
		StaleGrace:      cfg.Scheduler.StaleGrace,
		FanOut:          cfg.Scheduler.FanOut,
		WaveDelay:       cfg.Scheduler.WaveDelay,
		StartupRecovery: cfg.Scheduler.RecoverOnStartup(),
		Location:        loc,
	})
	if err != nil {
		targets.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		db:       gormDB,
		targets:  targets,
		provider: provider,
		pipe:     pipe,
		sched:    sched,
	}, nil
}

func (a *app) Close() {
	if err := a.targets.Close(); err != nil {
		a.log.Warn("close targets", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.log.Sync()
}

// newProvider prefers a local CSV directory over the Sheets API.
func newProvider(ctx context.Context, cfg *config.Config) (source.Provider, error) {
	if cfg.CSVDir != "" {
		return source.CSVDir{Dir: cfg.CSVDir}, nil
	}
	return source.NewSheets(ctx, source.SheetsConfig{
		CredentialsFile: cfg.Sheets.CredentialsFile,
		APIKey:          cfg.Sheets.APIKey,
		BaseURL:         cfg.Sheets.BaseURL,
		Timeout:         cfg.Sheets.Timeout,
	})
}

// newNotifier fans out to every platform with a token configured.
func newNotifier(cfg config.NotifyConfig, log *zap.Logger) (notify.Notifier, error) {
	var multi notify.Multi
	if cfg.Slack.Token != "" {
		n, err := slack.New(slack.Opts{BotToken: cfg.Slack.Token, ChannelID: cfg.Slack.Channel})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	if cfg.Discord.Token != "" {
		n, err := discord.New(discord.Opts{BotToken: cfg.Discord.Token, ChannelID: cfg.Discord.Channel, Logger: log})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	if len(multi) == 0 {
		return notify.Nop{}, nil
	}
	return multi, nil
}
