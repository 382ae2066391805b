// Package describe runs the trigger/describe/reset cycle for the latest
// camera frame.
//
// A Controller owns the current State. Trigger takes the newest frame from
// a frame source, publishes Loading, and asks an inference provider for a
// description on a worker goroutine. The outcome is published as Success
// or Error. Reset returns to Idle and invalidates whatever is in flight, so
// a slow response can never overwrite a reset.
package describe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/frame"
	"github.com/teslashibe/go-lens/pkg/inference"
)

// DefaultPrompt is the instruction sent with every frame.
const DefaultPrompt = `Explain what is visible in the image. First give a detailed description.
Then highlight the main elements, using a bullet point list.`

// Errors returned by Trigger. None of them changes the state.
var (
	ErrNoFrame  = errors.New("describe: no frame available")
	ErrInFlight = errors.New("describe: request already in flight")
	ErrClosed   = errors.New("describe: controller closed")
)

// ErrEmptyResponse is the failure published when the model answers with no text.
var ErrEmptyResponse = errors.New("describe: model returned an empty description")

// FrameSource supplies the latest frame. *frame.Source implements it.
type FrameSource interface {
	Latest() (*frame.Frame, bool)
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	prompt      string
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// WithPrompt replaces DefaultPrompt.
func WithPrompt(prompt string) Option {
	return func(o *options) { o.prompt = prompt }
}

// WithModel overrides the provider's default vision model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithMaxTokens limits the response length.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Controller is the inference state machine. It is safe for concurrent use.
type Controller struct {
	source   FrameSource
	provider inference.Provider
	opts     options
	logger   *slog.Logger

	state atomic.Pointer[State]

	// mu serialises transitions. gen identifies the current request; a
	// completion whose generation no longer matches is discarded.
	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool

	// notifyMu keeps watcher callbacks in publish order.
	notifyMu  sync.Mutex
	watchers  map[int]func(State)
	nextWatch int

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Controller in the Idle state.
func New(source FrameSource, provider inference.Provider, opts ...Option) *Controller {
	o := options{prompt: DefaultPrompt}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.L()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		source:    source,
		provider:  provider,
		opts:      o,
		logger:    o.logger.With("component", "describe"),
		changed:   make(chan struct{}),
		watchers:  make(map[int]func(State)),
		ctx:       ctx,
		ctxCancel: cancel,
	}
	idle := Idle()
	c.state.Store(&idle)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return *c.state.Load()
}

// Trigger starts describing the latest frame. It returns the Loading state
// it published, or the unchanged current state together with ErrNoFrame,
// ErrInFlight or ErrClosed.
func (c *Controller) Trigger() (State, error) {
	c.mu.Lock()

	cur := c.State()
	if c.closed {
		c.mu.Unlock()
		return cur, ErrClosed
	}
	if cur.Busy() {
		c.mu.Unlock()
		return cur, ErrInFlight
	}
	f, ok := c.source.Latest()
	if !ok {
		c.mu.Unlock()
		return cur, ErrNoFrame
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel

	loading := Loading(uuid.NewString(), f.Seq)
	loading.Model = c.opts.model

	c.logger.Info("describing frame",
		"request_id", loading.RequestID,
		"frame_seq", f.Seq,
		"origin", f.Origin,
	)

	c.wg.Add(1)
	go c.run(ctx, gen, f, loading)

	c.publishLocked(loading)
	return loading, nil
}

// Reset returns to Idle from any state. An in-flight request is cancelled
// and its result, if it still arrives, is dropped.
func (c *Controller) Reset() State {
	c.mu.Lock()
	prev := c.State()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if prev.Busy() {
		c.logger.Info("reset cancelled request", "request_id", prev.RequestID)
	}

	idle := Idle()
	c.publishLocked(idle)
	return idle
}

// Wait blocks until the state is not Loading and returns it.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		s := c.State()
		ch := c.changed
		c.mu.Unlock()

		if !s.Busy() {
			return s, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Watch registers fn to receive every published State, in publish order.
// fn runs on the publishing goroutine and must not call Trigger or Reset.
// The returned function unregisters it.
func (c *Controller) Watch(fn func(State)) (cancel func()) {
	c.notifyMu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.notifyMu.Unlock()

	return func() {
		c.notifyMu.Lock()
		delete(c.watchers, id)
		c.notifyMu.Unlock()
	}
}

// Close cancels any in-flight request, refuses further triggers and waits
// for the worker goroutine to finish. A request still Loading ends in Error
// with ErrClosed's message; any other state is left as is.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.cancel = nil

	if cur := c.State(); cur.Busy() {
		next := Failure(ErrClosed.Error())
		next.RequestID = cur.RequestID
		next.FrameSeq = cur.FrameSeq
		next.Model = cur.Model
		c.publishLocked(next)
	} else {
		c.mu.Unlock()
	}

	c.ctxCancel()
	c.wg.Wait()
	return nil
}

// run performs the provider call for one generation.
func (c *Controller) run(ctx context.Context, gen uint64, f *frame.Frame, loading State) {
	defer c.wg.Done()

	start := time.Now()
	resp, err := c.provider.Vision(ctx, &inference.VisionRequest{
		Image:       f.Image,
		JPEG:        f.JPEG,
		Prompt:      c.opts.prompt,
		Model:       c.opts.model,
		MaxTokens:   c.opts.maxTokens,
		Temperature: c.opts.temperature,
	})
	latency := time.Since(start)

	var next State
	switch {
	case err != nil:
		next = Failure(err.Error())
	case resp == nil || strings.TrimSpace(resp.Content) == "":
		next = Failure(ErrEmptyResponse.Error())
	default:
		next = Success(resp.Content)
	}

	next.RequestID = loading.RequestID
	next.FrameSeq = loading.FrameSeq
	next.Model = loading.Model
	if resp != nil && resp.Model != "" {
		next.Model = resp.Model
	}
	next.LatencyMs = latency.Milliseconds()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("dropping stale result",
			"request_id", loading.RequestID,
			"phase", next.Phase,
		)
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if next.Phase == PhaseError {
		c.logger.Warn("description failed",
			"request_id", next.RequestID,
			"latency_ms", next.LatencyMs,
			"error", next.Message,
		)
	} else {
		c.logger.Info("description ready",
			"request_id", next.RequestID,
			"latency_ms", next.LatencyMs,
			"chars", len(next.Text),
		)
	}

	c.publishLocked(next)
}

// publishLocked stores s, wakes waiters and notifies watchers. It must be
// called with mu held and releases it.
func (c *Controller) publishLocked(s State) {
	c.state.Store(&s)
	close(c.changed)
	c.changed = make(chan struct{})

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range c.watchers {
		fn(s)
	}
}
