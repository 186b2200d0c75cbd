package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeAlerter struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeAlerter) SendAlert(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.err
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRunner struct {
	mu      sync.Mutex
	fail    map[string]error
	block   chan struct{}
	started chan string
	ran     []string
}

func (f *fakeRunner) Run(_ context.Context, command string) CommandResult {
	f.mu.Lock()
	f.ran = append(f.ran, command)
	block := f.block
	f.mu.Unlock()
	if f.started != nil {
		f.started <- command
	}
	if block != nil {
		<-block
	}
	return CommandResult{Command: command, Stdout: "ok", Err: f.fail[command]}
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

var deadline = time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T, alerter Alerter, runner CommandRunner, now time.Time, opts ...Option) *Monitor {
	t.Helper()
	m, err := New(Config{Deadline: deadline, ThresholdDays: 3}, alerter, runner, opts...)
	require.NoError(t, err)
	m.now = func() time.Time { return now }
	return m
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Deadline: deadline}, nil, &fakeRunner{})
	require.Error(t, err)
	_, err = New(Config{Deadline: deadline}, &fakeAlerter{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, &fakeAlerter{}, &fakeRunner{})
	require.Error(t, err)
	_, err = New(Config{Deadline: deadline, ThresholdDays: -1}, &fakeAlerter{}, &fakeRunner{})
	require.Error(t, err)

	m, err := New(Config{Deadline: deadline}, &fakeAlerter{}, &fakeRunner{})
	require.NoError(t, err)
	require.Equal(t, DefaultInterval, m.cfg.Interval)
	require.Equal(t, DefaultDeployCommand, m.cfg.DeployCommand)
	require.Equal(t, DefaultRegisterCommand, m.cfg.RegisterCommand)
}

func TestDaysLeft(t *testing.T) {
	cases := []struct {
		now  time.Time
		want int
	}{
		{deadline.Add(-48 * time.Hour), 2},
		{deadline.Add(-47 * time.Hour), 2},
		{deadline.Add(-49 * time.Hour), 3},
		{deadline.Add(-time.Minute), 1},
		{deadline, 0},
		{deadline.Add(time.Hour), 0},
		{deadline.Add(25 * time.Hour), -1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DaysLeft(deadline, tc.now), "now=%s", tc.now)
	}
}

func TestTick_AboveThresholdDoesNothing(t *testing.T) {
	alerter := &fakeAlerter{}
	runner := &fakeRunner{}
	m := newTestMonitor(t, alerter, runner, deadline.Add(-10*24*time.Hour))

	res := m.Tick(context.Background())
	m.Wait()
	require.Equal(t, 10, res.DaysLeft)
	require.False(t, res.Alerted)
	require.False(t, res.DeployStarted)
	require.Zero(t, alerter.count())
	require.Empty(t, runner.commands())
}

func TestTick_UnderThresholdAlertsDeploysAndRegisters(t *testing.T) {
	alerter := &fakeAlerter{}
	runner := &fakeRunner{}
	metrics := NewMetrics(prometheus.NewRegistry())
	m := newTestMonitor(t, alerter, runner, deadline.Add(-2*24*time.Hour), WithMetrics(metrics))

	res := m.Tick(context.Background())
	m.Wait()
	require.Equal(t, 2, res.DaysLeft)
	require.True(t, res.Alerted)
	require.True(t, res.DeployStarted)
	require.NoError(t, res.AlertErr)

	require.Equal(t, 1, alerter.count())
	require.Contains(t, alerter.sent[0], "Baki: 2 hari.")
	require.Contains(t, alerter.sent[0], DefaultConsoleURL)
	require.Equal(t, []string{DefaultDeployCommand, DefaultRegisterCommand}, runner.commands())

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.alerts))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.deployRuns.WithLabelValues(resultSuccess)))
}

func TestTick_DeployFailureSkipsRegister(t *testing.T) {
	alerter := &fakeAlerter{}
	runner := &fakeRunner{fail: map[string]error{DefaultDeployCommand: errors.New("exit status 1")}}
	m := newTestMonitor(t, alerter, runner, deadline.Add(-2*24*time.Hour))

	m.Tick(context.Background())
	m.Wait()
	require.Equal(t, 1, alerter.count())
	require.Equal(t, []string{DefaultDeployCommand}, runner.commands())
}

func TestRunPipeline_RegisterFailureIsReported(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{DefaultRegisterCommand: errors.New("exit status 2")}}
	m := newTestMonitor(t, &fakeAlerter{}, runner, deadline)

	out := m.runPipeline(context.Background())
	require.True(t, out.Deploy.OK())
	require.NotNil(t, out.Register)
	require.False(t, out.Register.OK())
}

func TestTick_AlertFailureStillDeploys(t *testing.T) {
	alerter := &fakeAlerter{err: errors.New("bot blocked")}
	runner := &fakeRunner{}
	m := newTestMonitor(t, alerter, runner, deadline.Add(-time.Hour))

	res := m.Tick(context.Background())
	m.Wait()
	require.Error(t, res.AlertErr)
	require.True(t, res.DeployStarted)
	require.Len(t, runner.commands(), 2)
}

func TestTick_GuardsOverlappingDeploys(t *testing.T) {
	alerter := &fakeAlerter{}
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan string, 4)}
	m := newTestMonitor(t, alerter, runner, deadline.Add(-24*time.Hour))

	first := m.Tick(context.Background())
	require.True(t, first.DeployStarted)
	require.Equal(t, DefaultDeployCommand, <-runner.started)

	second := m.Tick(context.Background())
	require.True(t, second.Alerted)
	require.False(t, second.DeployStarted)
	require.Equal(t, 2, alerter.count())

	close(runner.block)
	m.Wait()
	require.Equal(t, []string{DefaultDeployCommand, DefaultRegisterCommand}, runner.commands())

	third := m.Tick(context.Background())
	m.Wait()
	require.True(t, third.DeployStarted)
}

func TestRun_TicksImmediatelyAndStops(t *testing.T) {
	alerter := &fakeAlerter{}
	m := newTestMonitor(t, alerter, &fakeRunner{}, deadline.Add(-time.Hour))
	m.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return alerter.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX utilities")
	}
	res := ExecRunner{}.Run(context.Background(), "echo deployed")
	require.True(t, res.OK())
	require.Equal(t, "deployed\n", res.Stdout)

	res = ExecRunner{}.Run(context.Background(), "false")
	require.False(t, res.OK())

	res = ExecRunner{}.Run(context.Background(), "   ")
	require.ErrorContains(t, res.Err, "empty command")
}

func TestExecRunner_QuotedArgumentsAndDirWithSpaces(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX utilities")
	}
	res := ExecRunner{}.Run(context.Background(), `printf '%s|%s' "a b" c`)
	require.True(t, res.OK(), res.Stderr)
	require.Equal(t, "a b|c", res.Stdout)

	dir := filepath.Join(t.TempDir(), "deploy dir")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app env.txt"), []byte("ready"), 0o600))

	res = ExecRunner{Dir: dir}.Run(context.Background(), `cat "app env.txt"`)
	require.True(t, res.OK(), res.Stderr)
	require.Equal(t, "ready", res.Stdout)
}
