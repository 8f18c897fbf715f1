// Package poller drives the fetch, project and publish cycle against the
// Tado API.
//
// The loop is a small state machine:
//
//	connecting -> ready -> polling -> ready ...
//	                  polling <-> backoff
//	connecting <-> backoff
//	any -> terminated
//
// Only an authentication failure while connecting and an exhausted
// rate-limit budget terminate it; everything else waits for the next tick.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/joshp123/tado-exporter/internal/rate"
	"github.com/joshp123/tado-exporter/plugins/tado"
)

const (
	StateConnecting = "connecting"
	StateReady      = "ready"
	StatePolling    = "polling"
	StateBackoff    = "backoff"
	StateTerminated = "terminated"

	EventConnected        = "connected"
	EventTick             = "tick"
	EventRateLimited      = "rate_limited"
	EventResumePolling    = "resume_polling"
	EventResumeConnecting = "resume_connecting"
	EventCycleDone        = "cycle_done"
	EventTerminate        = "terminate"
)

// Process exit codes, one per fatal cause.
const (
	ExitRetriesExhausted = 1
	ExitAuthentication   = 2
	ExitConfig           = 3
	ExitFailure          = 4
)

// ErrAuthentication is returned when credentials are rejected while connecting.
var ErrAuthentication = errors.New("authentication failed")

// Fetcher is the read side of the Tado API.
type Fetcher interface {
	HomeID(ctx context.Context) (int, error)
	Zones(ctx context.Context) ([]tado.Zone, error)
	ZoneState(ctx context.Context, zoneID int) (tado.ZoneState, error)
	Weather(ctx context.Context) (tado.Weather, error)
}

// Credentials produces a usable session before the first request.
type Credentials interface {
	Acquire(ctx context.Context) error
}

// Health receives the loop's own status.
type Health interface {
	RecordPoll(success bool, at time.Time)
	SetRetriesRemaining(n int)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config is the loop's share of the exporter configuration.
type Config struct {
	Interval   time.Duration
	MaxRetries int
	Unit       string
	Weather    bool
}

// CycleResult summarises one tick. Published lists the zones whose gauges
// were written before any error.
type CycleResult struct {
	Published []string
	Outcome   tado.Outcome
	Err       error
}

func (r CycleResult) OK() bool {
	return r.Err == nil
}

type Option func(*Loop)

func WithCredentials(creds Credentials) Option {
	return func(l *Loop) { l.creds = creds }
}

func WithHealth(health Health) Option {
	return func(l *Loop) { l.health = health }
}

func WithSleep(sleep SleepFunc) Option {
	return func(l *Loop) { l.sleep = sleep }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Loop) { l.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithConnected registers fn to run once the API has answered. An error
// from fn stops the loop.
func WithConnected(fn func() error) Option {
	return func(l *Loop) { l.onConnected = fn }
}

// Loop polls the API and writes observations. It is not safe for
// concurrent use and runs on a single goroutine.
type Loop struct {
	cfg      Config
	fetcher  Fetcher
	observer tado.Observer
	creds    Credentials
	health   Health
	sleep    SleepFunc
	now      func() time.Time
	log      *zap.SugaredLogger

	onConnected func() error

	policy  rate.Policy
	budget  *rate.Budget
	machine *fsm.FSM
}

func New(cfg Config, fetcher Fetcher, observer tado.Observer, opts ...Option) (*Loop, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if observer == nil {
		return nil, fmt.Errorf("observer is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if cfg.Unit == "" {
		cfg.Unit = tado.UnitCelsius
	}

	l := &Loop{
		cfg:      cfg,
		fetcher:  fetcher,
		observer: observer,
		health:   nopHealth{},
		sleep:    Sleep,
		now:      time.Now,
		log:      zap.NewNop().Sugar(),
		policy:   rate.Policy{Fallback: cfg.Interval},
		budget:   rate.NewBudget(cfg.MaxRetries),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.machine = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: EventConnected, Src: []string{StateConnecting}, Dst: StateReady},
			{Name: EventTick, Src: []string{StateReady}, Dst: StatePolling},
			{Name: EventRateLimited, Src: []string{StateConnecting, StatePolling}, Dst: StateBackoff},
			{Name: EventResumePolling, Src: []string{StateBackoff}, Dst: StatePolling},
			{Name: EventResumeConnecting, Src: []string{StateBackoff}, Dst: StateConnecting},
			{Name: EventCycleDone, Src: []string{StatePolling}, Dst: StateReady},
			{Name: EventTerminate, Src: []string{StateConnecting, StateReady, StatePolling, StateBackoff}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.log.Debugw("State transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return l, nil
}

// State returns the current state name.
func (l *Loop) State() string {
	return l.machine.Current()
}

// Budget exposes the retry budget shared by connecting and polling.
func (l *Loop) Budget() *rate.Budget {
	return l.budget
}

// Run connects and then polls until a fatal error or ctx is done. The
// returned error is never nil.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Connect(ctx); err != nil {
		return l.terminate(err)
	}

	for {
		if _, err := l.Tick(ctx); err != nil {
			return l.terminate(err)
		}
		if err := l.sleep(ctx, l.cfg.Interval); err != nil {
			return l.terminate(err)
		}
	}
}

// Connect acquires credentials and checks that the API answers.
func (l *Loop) Connect(ctx context.Context) error {
	l.log.Info("Connecting to tado API...")
	l.health.SetRetriesRemaining(l.budget.Remaining())

	if l.creds != nil {
		if err := l.creds.Acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
	}

	for {
		_, err := l.fetcher.HomeID(ctx)
		switch tado.Classify(err) {
		case tado.OutcomeSuccess:
			l.fire(EventConnected)
			l.log.Info("Connected to Tado API")
			if l.onConnected != nil {
				return l.onConnected()
			}
			return nil
		case tado.OutcomeAuthFailure:
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		case tado.OutcomeRateLimited:
			if err := l.backoff(ctx, err, EventResumeConnecting); err != nil {
				return err
			}
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warnw("Cannot reach Tado API, retrying", "error", err, "in", l.cfg.Interval)
			if err := l.sleep(ctx, l.cfg.Interval); err != nil {
				return err
			}
		}
	}
}

// Tick runs one polling cycle. A non-nil error is fatal; ordinary failures
// are reported in the CycleResult and leave earlier gauge writes in place.
func (l *Loop) Tick(ctx context.Context) (CycleResult, error) {
	l.fire(EventTick)

	result, err := l.poll(ctx)
	if err != nil {
		return result, err
	}
	l.fire(EventCycleDone)

	l.health.RecordPoll(result.OK(), l.now())
	if !result.OK() {
		l.logAbandoned(result)
	}
	return result, nil
}

func (l *Loop) poll(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	abandon := func(err error) (CycleResult, error) {
		if l.fatal(ctx, err) {
			return result, err
		}
		result.Err = err
		result.Outcome = tado.Classify(err)
		return result, nil
	}

	var zones []tado.Zone
	err := l.attempt(ctx, func() error {
		var err error
		zones, err = l.fetcher.Zones(ctx)
		return err
	})
	if err != nil {
		return abandon(fmt.Errorf("list zones: %w", err))
	}

	for _, zone := range zones {
		var state tado.ZoneState
		err := l.attempt(ctx, func() error {
			var err error
			state, err = l.fetcher.ZoneState(ctx, zone.ID)
			return err
		})
		if err != nil {
			return abandon(fmt.Errorf("zone %q: %w", zone.Name, err))
		}
		l.publish(tado.Project(zone, state, l.cfg.Unit))
		result.Published = append(result.Published, zone.Name)
	}

	if l.cfg.Weather {
		var weather tado.Weather
		err := l.attempt(ctx, func() error {
			var err error
			weather, err = l.fetcher.Weather(ctx)
			return err
		})
		if err != nil {
			return abandon(fmt.Errorf("weather: %w", err))
		}
		l.publish(tado.ProjectWeather(weather, l.cfg.Unit))
	}

	return result, nil
}

// attempt calls fn, waiting out rate limits in place, until fn returns
// anything other than a rate-limit error.
func (l *Loop) attempt(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if tado.Classify(err) != tado.OutcomeRateLimited {
			return err
		}
		if err := l.backoff(ctx, err, EventResumePolling); err != nil {
			return err
		}
	}
}

// backoff waits out one rate-limited response and spends one retry.
func (l *Loop) backoff(ctx context.Context, cause error, resume string) error {
	if !l.budget.ShouldRetry() {
		return fmt.Errorf("%w after %d retries: %w", rate.ErrRetriesExhausted, l.budget.Max(), cause)
	}
	l.fire(EventRateLimited)

	wait := l.policy.Wait(tado.RateLimitHeader(cause))
	l.log.Errorf("Tado API rate limit exceeded. Retrying after %s.", wait)
	if err := l.sleep(ctx, wait); err != nil {
		return err
	}

	l.budget.Spend()
	l.health.SetRetriesRemaining(l.budget.Remaining())
	l.fire(resume)
	return nil
}

func (l *Loop) publish(observations []tado.Observation) {
	for _, obs := range observations {
		if err := l.observer.Observe(obs); err != nil {
			l.log.Warnw("Cannot publish observation", "metric", obs.Name, "error", err)
		}
	}
}

func (l *Loop) fatal(ctx context.Context, err error) bool {
	return errors.Is(err, rate.ErrRetriesExhausted) || ctx.Err() != nil
}

func (l *Loop) logAbandoned(result CycleResult) {
	if result.Outcome == tado.OutcomeAuthFailure {
		l.log.Errorw("Tado API rejected credentials. Will retry later.",
			"published", len(result.Published), "error", result.Err)
		return
	}
	l.log.Error("Cannot read data from Tado API. Will retry later.")
	l.log.Debugw("Poll cycle abandoned", "published", len(result.Published), "error", result.Err)
}

func (l *Loop) terminate(cause error) error {
	l.fire(EventTerminate)

	switch {
	case errors.Is(cause, ErrAuthentication):
		l.log.Errorw("Authentication failed. Please check your credentials.", "error", cause)
	case errors.Is(cause, rate.ErrRetriesExhausted):
		l.log.Errorw("Maximum retries reached. Exiting.", "error", cause)
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		l.log.Info("Poll loop stopped")
	default:
		l.log.Errorw("Poll loop failed", "error", cause)
	}
	return cause
}

// fire applies a transition. Transitions are driven by the loop itself, so
// a rejected one is a bug worth logging, not a runtime condition.
func (l *Loop) fire(event string) {
	if err := l.machine.Event(context.Background(), event); err != nil {
		l.log.Warnw("Invalid state transition", "event", event, "state", l.machine.Current(), "error", err)
	}
}

// ExitCode maps a Run error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, ErrAuthentication):
		return ExitAuthentication
	case errors.Is(err, rate.ErrRetriesExhausted):
		return ExitRetriesExhausted
	default:
		return ExitFailure
	}
}

// Sleep waits for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopHealth struct{}

func (nopHealth) RecordPoll(bool, time.Time) {}

func (nopHealth) SetRetriesRemaining(int) {}
