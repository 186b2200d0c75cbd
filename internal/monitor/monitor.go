// Package monitor watches a trial deadline and, once it is close, alerts
// and runs the redeploy scripts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval        = 6 * time.Hour
	DefaultThresholdDays   = 3
	DefaultDeployCommand   = "node deploy_railway.js"
	DefaultRegisterCommand = "node register_railway.js"
	DefaultConsoleURL      = "https://railway.app/"
)

const (
	resultSuccess        = "success"
	resultDeployFailed   = "deploy_failed"
	resultRegisterFailed = "register_failed"
	resultInFlight       = "skipped_in_flight"
)

// Alerter delivers the expiry alert.
type Alerter interface {
	SendAlert(ctx context.Context, text string) error
}

type Config struct {
	Deadline        time.Time
	ThresholdDays   int
	Interval        time.Duration
	DeployCommand   string
	RegisterCommand string
	ConsoleURL      string
}

// Monitor re-evaluates the deadline on every tick. There is no "already
// alerted" state: every tick at or under the threshold alerts again.
type Monitor struct {
	cfg     Config
	alerter Alerter
	runner  CommandRunner
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	deploying atomic.Bool
	wg        sync.WaitGroup
}

type Option func(*Monitor)

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

func New(cfg Config, alerter Alerter, runner CommandRunner, opts ...Option) (*Monitor, error) {
	if alerter == nil {
		return nil, errors.New("monitor: alerter must not be nil")
	}
	if runner == nil {
		return nil, errors.New("monitor: command runner must not be nil")
	}
	if cfg.Deadline.IsZero() {
		return nil, errors.New("monitor: deadline must be set")
	}
	if cfg.ThresholdDays < 0 {
		return nil, errors.New("monitor: threshold must not be negative")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if strings.TrimSpace(cfg.DeployCommand) == "" {
		cfg.DeployCommand = DefaultDeployCommand
	}
	if strings.TrimSpace(cfg.RegisterCommand) == "" {
		cfg.RegisterCommand = DefaultRegisterCommand
	}
	if cfg.ConsoleURL == "" {
		cfg.ConsoleURL = DefaultConsoleURL
	}
	m := &Monitor{
		cfg:     cfg,
		alerter: alerter,
		runner:  runner,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// DaysLeft rounds the time until deadline up to whole days.
func DaysLeft(deadline, now time.Time) int {
	days := math.Ceil(deadline.Sub(now).Hours() / 24)
	if days == 0 {
		return 0 // avoid -0
	}
	return int(days)
}

// TickResult describes one evaluation of the deadline.
type TickResult struct {
	DaysLeft int
	Alerted  bool
	AlertErr error
	// DeployStarted is false when under threshold but a previous pipeline
	// is still running.
	DeployStarted bool
}

// Tick evaluates the deadline once. The deploy pipeline runs in the
// background; Wait blocks until it finishes.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	res := TickResult{DaysLeft: DaysLeft(m.cfg.Deadline, m.now())}
	m.logger.Info("trial status checked", "days_left", res.DaysLeft, "threshold", m.cfg.ThresholdDays)
	if res.DaysLeft > m.cfg.ThresholdDays {
		return res
	}

	m.logger.Warn("trial ending soon, triggering redeploy", "days_left", res.DaysLeft)
	res.Alerted = true
	if err := m.alerter.SendAlert(ctx, alertText(res.DaysLeft, m.cfg.ConsoleURL)); err != nil {
		res.AlertErr = err
		m.logger.Error("alert send failed", "err", err)
	} else {
		m.metrics.alertSent()
	}

	if !m.deploying.CompareAndSwap(false, true) {
		m.logger.Warn("deployment already in progress, skipping")
		m.metrics.deployResult(resultInFlight)
		return res
	}
	res.DeployStarted = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.deploying.Store(false)
		m.runPipeline(ctx)
	}()
	return res
}

// PipelineResult holds the deploy result and, when deploy succeeded, the
// register result.
type PipelineResult struct {
	Deploy   CommandResult
	Register *CommandResult
}

// runPipeline runs deploy, then register only if deploy exited cleanly.
func (m *Monitor) runPipeline(ctx context.Context) PipelineResult {
	var out PipelineResult
	out.Deploy = m.runner.Run(ctx, m.cfg.DeployCommand)
	if !out.Deploy.OK() {
		m.logger.Error("deploy failed", "command", m.cfg.DeployCommand, "err", out.Deploy.Err, "stderr", out.Deploy.Stderr)
		m.metrics.deployResult(resultDeployFailed)
		return out
	}
	m.logger.Info("deploy finished", "command", m.cfg.DeployCommand, "stdout", out.Deploy.Stdout)

	register := m.runner.Run(ctx, m.cfg.RegisterCommand)
	out.Register = &register
	if !register.OK() {
		m.logger.Error("register failed", "command", m.cfg.RegisterCommand, "err", register.Err, "stderr", register.Stderr)
		m.metrics.deployResult(resultRegisterFailed)
		return out
	}
	m.logger.Info("register finished", "command", m.cfg.RegisterCommand, "stdout", register.Stdout)
	m.metrics.deployResult(resultSuccess)
	return out
}

// Run ticks once immediately and then every interval until ctx is
// cancelled, then waits for a running pipeline.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.wg.Wait()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Wait blocks until any running deploy pipeline has finished.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func alertText(daysLeft int, consoleURL string) string {
	return fmt.Sprintf("🚨 *Railway Trial Hampir Tamat!*\n\nBaki: %d hari.\n\nSila login & jawab captcha di sini:\n%s", daysLeft, consoleURL)
}
