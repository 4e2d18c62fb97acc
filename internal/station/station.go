// Package station assembles the client-side engine for one device on a
// venue: the in-memory store, the lifecycle operations, the tick pass, the
// alert dispatcher, and the feed bridge, all wired from a single config.
package station

import (
	"context"

	"github.com/prepline/kitchend/internal/alert"
	"github.com/prepline/kitchend/internal/bridge"
	"github.com/prepline/kitchend/internal/client"
	"github.com/prepline/kitchend/internal/config"
	"github.com/prepline/kitchend/internal/engine"
	"github.com/prepline/kitchend/internal/timercore"
)

// Station holds the assembled components. Callers read timers through Store,
// mutate through Lifecycle, and route user gestures to Dispatcher.
type Station struct {
	Store      *engine.Store
	Lifecycle  *engine.Lifecycle
	Ticker     *engine.Ticker
	Dispatcher *alert.Dispatcher
	Client     *client.Client
	Bridge     *bridge.Bridge
}

type Option func(*options)

type options struct {
	player   alert.Player
	promptFn func()
	logf     func(format string, args ...any)
}

// WithPlayer installs the sound backend. Without one the dispatcher still
// tracks fired state but playback is a no-op.
func WithPlayer(p alert.Player) Option {
	return func(o *options) { o.player = p }
}

// WithPromptFunc installs the one-time "enable sound" prompt.
func WithPromptFunc(fn func()) Option {
	return func(o *options) { o.promptFn = fn }
}

func WithLogFunc(fn func(format string, args ...any)) Option {
	return func(o *options) {
		if fn != nil {
			o.logf = fn
		}
	}
}

// New wires a station against the daemon at baseURL. The config supplies the
// urgency thresholds, tick cadence, snooze default, sound switch, and the
// reconnect backoff window.
func New(cfg config.Config, baseURL, venueID string, opts ...Option) *Station {
	o := options{logf: func(string, ...any) {}}
	for _, opt := range opts {
		opt(&o)
	}

	store := engine.NewStore(venueID, timercore.Config{
		SafeRatio:     cfg.SafeRatio,
		WarningRatio:  cfg.WarningRatio,
		CompleteGrace: cfg.CompleteGrace,
	})
	c := client.New(baseURL)

	dispatcherOpts := []alert.Option{alert.WithLogFunc(o.logf)}
	if o.promptFn != nil {
		dispatcherOpts = append(dispatcherOpts, alert.WithPromptFunc(o.promptFn))
	}
	dispatcher := alert.NewDispatcher(o.player, cfg.SoundEnabled, dispatcherOpts...)

	logWriteErr := func(op string, err error) {
		o.logf("station: write %s: %v", op, err)
	}
	lifecycle := engine.NewLifecycle(store, c,
		engine.WithSnoozeInterval(cfg.DefaultSnoozeInterval),
		engine.WithRearmer(dispatcher),
		engine.WithWriteErrorFunc(logWriteErr),
	)
	ticker := engine.NewTicker(store, c, dispatcher, cfg.OverdueAfter, cfg.TickInterval)
	ticker.SetWriteErrorFunc(logWriteErr)

	br := bridge.New(c.FeedURL(venueID), store,
		bridge.WithRearmer(dispatcher),
		bridge.WithBackoff(cfg.RetryMinBackoff, cfg.RetryMaxBackoff),
		bridge.WithLogFunc(o.logf),
	)

	return &Station{
		Store:      store,
		Lifecycle:  lifecycle,
		Ticker:     ticker,
		Dispatcher: dispatcher,
		Client:     c,
		Bridge:     br,
	}
}

// Run drives the feed bridge and the tick pass until the context ends.
func (s *Station) Run(ctx context.Context) error {
	go s.Ticker.Run(ctx)
	return s.Bridge.Run(ctx)
}
