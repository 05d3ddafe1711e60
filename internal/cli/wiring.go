package cli

import (
	"context"
	"os"

	"github.com/kuitang/textile-e2e/internal/artifacts"
	"github.com/kuitang/textile-e2e/internal/config"
	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/driver/cdpdriver"
	"github.com/kuitang/textile-e2e/internal/driver/mockdriver"
	"github.com/kuitang/textile-e2e/internal/driver/pwdriver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/notify"
	"github.com/kuitang/textile-e2e/internal/obs"
	"github.com/kuitang/textile-e2e/internal/ratelimit"
	"github.com/kuitang/textile-e2e/internal/results"
	"github.com/kuitang/textile-e2e/internal/runner"
	"github.com/kuitang/textile-e2e/internal/scenario"
)

// env is everything a command needs to execute scenarios. close releases it all.
type env struct {
	cfg       *config.Config
	scenarios []scenario.Scenario
	driver    driver.Driver
	limiter   *ratelimit.SessionLimiter
	store     *results.Store
	artifacts *artifacts.Client
	runner    *runner.Runner
}

func loadScenarios(cfg *config.Config) ([]scenario.Scenario, error) {
	if cfg.ScenarioDir == "" {
		return scenario.Catalog(), nil
	}
	return scenario.LoadDir(cfg.ScenarioDir)
}

func newDriver(cfg *config.Config) (driver.Driver, error) {
	switch cfg.Driver {
	case config.DriverMock:
		return mockdriver.Textile(cfg.BaseURL), nil
	case config.DriverCDP:
		return cdpdriver.New(cdpdriver.Config{Endpoint: cfg.Endpoint, Headless: cfg.Headless}), nil
	default:
		d, err := pwdriver.New(pwdriver.Config{Endpoint: cfg.Endpoint, Headless: cfg.Headless})
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "playwright is not available; run `go run github.com/playwright-community/playwright-go/cmd/playwright install`", err)
		}
		return d, nil
	}
}

// openStore opens the run history, or returns nil when RESULTS_DB is unset.
func openStore(cfg *config.Config) (*results.Store, error) {
	if cfg.ResultsDB == "" {
		return nil, nil
	}
	return results.Open(cfg.ResultsDB, cfg.ResultsDBKey)
}

func newArtifacts(ctx context.Context, cfg *config.Config) (*artifacts.Client, error) {
	if !cfg.ArtifactsEnabled() {
		return nil, nil
	}
	client, err := artifacts.New(ctx, artifacts.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.ArtifactsBucket,
		PublicURL:       cfg.ArtifactsPublicURL,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "artifacts bucket unavailable", err)
	}
	return client, nil
}

// newNotifier returns nil when no recipients are configured.
func newNotifier(cfg *config.Config) notify.Notifier {
	switch {
	case cfg.EmailEnabled():
		return notify.NewResendNotifier(cfg.ResendAPIKey, cfg.ReportFrom, cfg.ReportTo)
	case len(cfg.ReportTo) > 0:
		return notify.NewMockNotifier(cfg.ReportFrom, cfg.ReportTo, os.Getenv(notify.OutboxDirEnv))
	}
	return nil
}

func newEnv(ctx context.Context, cfg *config.Config) (_ *env, err error) {
	e := &env{cfg: cfg}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	if e.scenarios, err = loadScenarios(cfg); err != nil {
		return nil, err
	}
	if e.store, err = openStore(cfg); err != nil {
		return nil, err
	}
	if e.artifacts, err = newArtifacts(ctx, cfg); err != nil {
		return nil, err
	}
	if e.driver, err = newDriver(cfg); err != nil {
		return nil, err
	}
	e.limiter = ratelimit.NewSessionLimiter(cfg.SessionLimits)

	opts := []runner.Option{
		runner.WithBaseURL(cfg.BaseURL),
		runner.WithWaitBudget(cfg.WaitBudget),
		runner.WithActionTimeout(cfg.ActionTimeout),
		runner.WithLimiter(e.limiter),
	}
	if e.store != nil {
		opts = append(opts, runner.WithRecorder(e.store))
	}
	if e.artifacts != nil {
		opts = append(opts, runner.WithArtifacts(e.artifacts))
	}
	e.runner = runner.New(e.driver, opts...)
	return e, nil
}

func (e *env) close() {
	logger := obs.Pkg("cli")
	if e.driver != nil {
		if err := e.driver.Close(); err != nil {
			logger.Warn("driver_close_failed", "error", err)
		}
	}
	if e.limiter != nil {
		e.limiter.Stop()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logger.Warn("results_close_failed", "error", err)
		}
	}
}
