// Package engine runs the detection loop: sample the screen, score it
// against the template, dispatch on a match and hold off under the cooldown
// policy. One Engine owns at most one background worker at a time.
package engine

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/omnicall/internal/config"
	"github.com/GriffinCanCode/omnicall/internal/cooldown"
	"github.com/GriffinCanCode/omnicall/internal/dedup"
	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/events"
	"github.com/GriffinCanCode/omnicall/internal/match"
	"github.com/GriffinCanCode/omnicall/internal/screen"
	"github.com/GriffinCanCode/omnicall/internal/syncx"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// FrameSource captures one frame per call.
type FrameSource interface {
	Capture(ctx context.Context) (screen.Frame, error)
}

// boundedSource is implemented by sources that know the desktop size
// up front, so an oversized template can be rejected at Start.
type boundedSource interface {
	Bounds() (image.Rectangle, error)
}

// Scorer returns the best correlation of t over frame.
type Scorer interface {
	Score(frame *image.RGBA, t *match.Template) float64
}

// Dispatcher fans a notification out to a user's devices.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, n dispatch.Notification) (dispatch.Result, error)
}

// MatchStateStore persists the match counter.
type MatchStateStore interface {
	LoadLastMatch(ctx context.Context, userID string) (dedup.State, error)
	SaveLastMatch(ctx context.Context, userID string, s dedup.State) error
}

// Sleeper waits d or until ctx ends. A non-nil error stops the loop.
type Sleeper func(ctx context.Context, d time.Duration) error

// TemplateLoader opens the template named by the config.
type TemplateLoader func(path string) (*match.Template, error)

// Deps are the engine's collaborators. Matches and Stats may be nil.
type Deps struct {
	Source     FrameSource
	Dispatcher Dispatcher
	Matches    MatchStateStore
	Stats      dispatch.StatsSink
}

// Options override the engine's clock, sleep and scoring. Zero values
// use the real implementations.
type Options struct {
	Clock        func() time.Time
	Sleep        Sleeper
	Scorer       Scorer
	LoadTemplate TemplateLoader
	EventBuffer  int
}

// Counters accumulate over the engine's lifetime.
type Counters struct {
	Ticks        uint64 `json:"ticks"`
	Dispatches   uint64 `json:"dispatches"`
	DevicesSent  uint64 `json:"devices_sent"`
	TotalMatches int    `json:"total_matches"`
}

// Status is an immutable view of the engine.
type Status struct {
	Running       bool       `json:"running"`
	Phase         string     `json:"phase"`
	UserID        string     `json:"user_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastScore     float64    `json:"last_score"`
	LastError     string     `json:"last_error,omitempty"`
	TemplateHash  string     `json:"template_hash,omitempty"`
	Threshold     float64    `json:"threshold,omitempty"`
	Counters      Counters   `json:"counters"`
	DroppedEvents uint64     `json:"dropped_events"`
}

type run struct {
	cfg     config.EngineConfig
	tmpl    *match.Template
	scorer  Scorer
	machine *cooldown.Machine
	dedup   *dedup.Deduplicator
	cancel  context.CancelFunc
	done    chan struct{}
}

// Engine owns the detection worker.
type Engine struct {
	deps Deps
	opts Options

	mu  sync.Mutex
	run *run

	status  *syncx.Snapshot[Status]
	events  chan events.Event
	dropped atomic.Uint64

	// lastMatch caches each user's counter so a store outage does not
	// reset it.
	matchMu   sync.Mutex
	lastMatch map[string]dedup.State
}

// New creates an idle engine.
func New(deps Deps, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.LoadTemplate == nil {
		opts.LoadTemplate = match.Load
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	return &Engine{
		deps:   deps,
		opts:   opts,
		status:    syncx.NewSnapshot(Status{Phase: cooldown.Idle.String()}),
		events:    make(chan events.Event, opts.EventBuffer),
		lastMatch: make(map[string]dedup.State),
	}
}

// Events returns the engine's event stream. The channel lives as long as
// the engine and is shared by every run; it is never closed.
func (e *Engine) Events() <-chan events.Event { return e.events }

// Status returns the latest snapshot.
func (e *Engine) Status() Status {
	s := e.status.Load()
	s.DroppedEvents = e.dropped.Load()
	return s
}

// Running reports whether a worker is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil
}

// Start validates cfg, loads the template and launches the worker.
// The worker runs until Stop or until ctx ends.
func (e *Engine) Start(ctx context.Context, cfg config.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return apperrors.New(apperrors.CodeAlreadyRunning, "detector already running")
	}
	if err := config.ValidateEngine(cfg); err != nil {
		return err
	}

	tmpl, err := e.opts.LoadTemplate(cfg.TemplatePath)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodeInvalidTemplate) {
			err = apperrors.Wrap(err, apperrors.CodeInvalidTemplate, "load template")
		}
		e.recordError(err)
		e.emit(events.Status(e.opts.Clock(), "template error: "+err.Error()))
		return err
	}
	if err := e.checkFits(tmpl); err != nil {
		e.recordError(err)
		e.emit(events.Status(e.opts.Clock(), "template error: "+err.Error()))
		return err
	}

	scorer := e.opts.Scorer
	if scorer == nil {
		scorer = match.NewScorer(match.Options{Downsample: cfg.Downsample})
	}

	machine := cooldown.New(cooldown.Policy{
		Threshold:       cfg.Threshold,
		Debounce:        cfg.Debounce,
		FailureCooldown: cfg.FailureCooldown,
	})
	machine.Arm()

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cfg:     cfg,
		tmpl:    tmpl,
		scorer:  scorer,
		machine: machine,
		dedup:   dedup.New(cfg.DedupWindow),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.run = r

	started := e.opts.Clock()
	e.status.Update(func(s *Status) {
		s.Running = true
		s.Phase = machine.Phase().String()
		s.UserID = cfg.UserID
		s.StartedAt = &started
		s.CooldownUntil = nil
		s.LastError = ""
		s.TemplateHash = tmpl.Fingerprint()
		s.Threshold = cfg.Threshold
	})

	trace.Logger(ctx).Info("detector started",
		"user", cfg.UserID,
		"template", cfg.TemplatePath,
		"template_hash", tmpl.Fingerprint(),
		"threshold", cfg.Threshold,
		"poll_interval", cfg.PollInterval,
	)
	e.emit(events.Status(started, StatusRunning))

	go e.loop(runCtx, r)
	return nil
}

// Stop cancels the worker and waits up to the run's stop grace. Stopping
// an idle engine is a no-op. When the worker does not exit in time it is
// abandoned and a STOP_TIMEOUT error is returned; the engine is idle
// either way.
func (e *Engine) Stop() error {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return nil
	}

	r.cancel()

	timer := time.NewTimer(r.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-r.done:
		return nil
	case <-timer.C:
	}

	err := apperrors.Newf(apperrors.CodeStopTimeout, "detector did not stop within %s", r.cfg.StopGrace)
	e.detach(r, err)
	return err
}

func (e *Engine) checkFits(t *match.Template) error {
	bs, ok := e.deps.Source.(boundedSource)
	if !ok {
		return nil
	}
	b, err := bs.Bounds()
	if err != nil {
		// A missing display surfaces as capture errors once running.
		return nil
	}
	if t.Width() > b.Dx() || t.Height() > b.Dy() {
		return apperrors.Newf(apperrors.CodeInvalidTemplate,
			"template %dx%d larger than screen %dx%d", t.Width(), t.Height(), b.Dx(), b.Dy())
	}
	return nil
}

func (e *Engine) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			err := apperrors.Newf(apperrors.CodeInternal, "detector worker panic: %v", rec)
			trace.Logger(ctx).Error("detector worker crashed", "error", err)
			e.finish(r, err)
			return
		}
		e.finish(r, nil)
	}()

	for {
		e.tick(ctx, r)
		if err := e.opts.Sleep(ctx, r.cfg.PollInterval); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// finish runs on the worker goroutine, which owns r.machine.
func (e *Engine) finish(r *run, err error) {
	r.machine.Reset()
	log := trace.Logger(context.Background())
	if !e.detach(r, err) {
		log.Debug("abandoned detector worker exited", "user", r.cfg.UserID)
		return
	}
	log.Info("detector stopped", "user", r.cfg.UserID)
}

// detach marks r as no longer current and emits the stopped status. It
// reports false when r had already been detached, which happens when Stop
// abandoned it.
func (e *Engine) detach(r *run, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != r {
		return false
	}
	e.run = nil
	e.status.Update(func(s *Status) {
		s.Running = false
		s.Phase = cooldown.Idle.String()
		s.CooldownUntil = nil
		if err != nil {
			s.LastError = err.Error()
		}
	})
	e.emit(events.Status(e.opts.Clock(), StatusStopped))
	return true
}

func (e *Engine) tick(ctx context.Context, r *run) {
	ctx, span := trace.StartSpan(ctx, "tick")
	log := trace.Logger(ctx)
	now := e.opts.Clock()

	ready := r.machine.Ready(now)
	if !e.publish(r, func(s *Status) {
		s.Counters.Ticks++
		s.Phase = r.machine.Phase().String()
	}) {
		span.End(nil)
		return
	}
	if !ready {
		span.SetAttr("suppressed", true)
		span.End(nil)
		return
	}

	frame, err := e.deps.Source.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			span.End(nil)
			return
		}
		e.publish(r, func(s *Status) { s.LastError = err.Error() }, events.Status(now, "capture error: "+err.Error()))
		span.End(err)
		return
	}

	score := r.scorer.Score(frame.Image, r.tmpl)
	e.publish(r, func(s *Status) {
		s.LastScore = score
		s.LastError = ""
	})
	span.SetAttr("score", score)

	if !r.machine.Triggered(score) {
		span.End(nil)
		return
	}

	log.Info("match detected", "score", score, "threshold", r.cfg.Threshold)
	if !e.publish(r, nil, events.Status(now, fmt.Sprintf("%s (score %.3f)", StatusMatchDetected, score))) {
		span.End(nil)
		return
	}

	// An in-flight fan-out completes even if Stop arrives meanwhile; each
	// send is still bounded by its own timeout.
	res, err := e.deps.Dispatcher.Dispatch(context.WithoutCancel(ctx), r.cfg.UserID, dispatch.Notification{
		Title:   r.cfg.Title,
		Message: r.cfg.Message,
		URL:     r.cfg.PayloadURL,
	})
	if err != nil {
		log.Warn("dispatch failed", "error", err)
		res = dispatch.Result{}
	}

	decided := e.opts.Clock()
	until := r.machine.Record(decided, res.Succeeded)

	// Stop may have abandoned this run while it was dispatching; a later
	// run owns the status, the stream and the counters now.
	if !e.current(r) {
		log.Warn("dropping result of abandoned run", "succeeded", res.Succeeded, "attempted", res.Attempted)
		span.End(nil)
		return
	}

	m := events.Match{Score: score, Succeeded: res.Succeeded, Total: res.Attempted}
	var text string
	if res.Succeeded > 0 {
		next, isNew := e.countMatch(ctx, r, res, decided)
		m.New = isNew
		m.TotalMatches = next.TotalMatches
		if isNew {
			text = fmt.Sprintf("match #%d: notification sent to %d device(s)", next.TotalMatches, res.Succeeded)
		} else {
			text = fmt.Sprintf("re-alert sent to %d device(s)", res.Succeeded)
		}
	} else {
		m.TotalMatches = e.cachedMatch(r.cfg.UserID).TotalMatches
		text = fmt.Sprintf("%s (%d/%d)", StatusNoDevices, res.Succeeded, res.Attempted)
	}

	e.publish(r, func(s *Status) {
		s.Phase = r.machine.Phase().String()
		s.CooldownUntil = &until
		s.Counters.Dispatches++
		s.Counters.DevicesSent += uint64(res.Succeeded)
		s.Counters.TotalMatches = m.TotalMatches
	}, events.Status(decided, text), events.MatchEvent(decided, m))

	span.SetAttr("succeeded", res.Succeeded)
	span.SetAttr("attempted", res.Attempted)
	span.End(nil)
}

// countMatch runs dedup against the freshest known counter and persists a
// new match. Store failures are logged; the cached counter still advances.
func (e *Engine) countMatch(ctx context.Context, r *run, res dispatch.Result, now time.Time) (dedup.State, bool) {
	log := trace.Logger(ctx)
	userID := r.cfg.UserID

	prev := e.cachedMatch(userID)
	if e.deps.Matches != nil {
		stored, err := e.deps.Matches.LoadLastMatch(ctx, userID)
		if err != nil {
			log.Warn("load match state failed", "error", err)
		} else {
			prev = dedup.Merge(prev, stored)
		}
	}

	next, isNew := r.dedup.RecordIfNewMatch(res, prev, now)
	if !e.current(r) {
		return next, false
	}
	e.setCachedMatch(userID, next)
	if !isNew {
		return next, false
	}

	if e.deps.Matches != nil {
		if err := e.deps.Matches.SaveLastMatch(ctx, userID, next); err != nil {
			log.Warn("save match state failed", "error", apperrors.Wrap(err, apperrors.CodeStateSave, "save last match"))
		}
	}
	if e.deps.Stats != nil {
		if err := e.deps.Stats.IncrementMatches(ctx, 1); err != nil {
			log.Warn("stats update failed", "error", apperrors.Wrap(err, apperrors.CodeStatsUpdate, "increment matches"))
		}
	}
	return next, true
}

func (e *Engine) cachedMatch(userID string) dedup.State {
	e.matchMu.Lock()
	defer e.matchMu.Unlock()
	return e.lastMatch[userID]
}

func (e *Engine) setCachedMatch(userID string, s dedup.State) {
	e.matchMu.Lock()
	defer e.matchMu.Unlock()
	e.lastMatch[userID] = dedup.Merge(e.lastMatch[userID], s)
}

func (e *Engine) current(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run == r
}

// publish applies fn and emits evs atomically with respect to detach, so
// an abandoned run can neither touch the status nor reach the stream.
func (e *Engine) publish(r *run, fn func(*Status), evs ...events.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != r {
		return false
	}
	if fn != nil {
		e.status.Update(fn)
	}
	for _, ev := range evs {
		e.emit(ev)
	}
	return true
}

func (e *Engine) recordError(err error) {
	e.status.Update(func(s *Status) { s.LastError = err.Error() })
}

// emit never blocks; events that do not fit are counted and dropped.
func (e *Engine) emit(ev events.Event) {
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
