// Copyright © 2024 The ELPS authors

// Package harness drives an agent through an edit workflow and waits for
// the code lens state that results. A Fixture binds one open document to
// the agent's lens channel; its RunAndWait methods trigger an action and
// block until a pushed snapshot satisfies a predicate, the action reports
// an error, or the wait times out.
package harness

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/luthersystems/lenswait/agent"
	"github.com/luthersystems/lenswait/lens"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const tracerName = "github.com/luthersystems/lenswait/harness"

var log = commonlog.GetLogger("lenswait.harness")

// Trigger dispatches a named action. It returns once the action has been
// accepted, not once its effects are visible.
type Trigger interface {
	Trigger(ctx context.Context, actionID string) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, actionID string) error

// Trigger calls f.
func (f TriggerFunc) Trigger(ctx context.Context, actionID string) error {
	return f(ctx, actionID)
}

// LensSource answers on-demand queries for a document's lenses.
type LensSource interface {
	CodeLenses(ctx context.Context, uri string) (lens.Snapshot, error)
}

// Document is the fixture file opened in the agent.
type Document struct {
	URI        string
	LanguageID string
	Text       string
}

// Fixture waits on the lenses of one document.
type Fixture struct {
	cfg      Config
	uri      string
	trigger  Trigger
	channel  *lens.Channel
	registry *lens.Registry
	source   LensSource
	tracer   trace.Tracer
	sleep    func(context.Context, time.Duration) error

	// Set when the fixture owns the agent connection.
	agent *agent.Client

	closeOnce   sync.Once
	unsubscribe func()
}

// Option configures a Fixture.
type Option func(*Fixture)

// WithLensSource sets where the fixture looks up the current lenses when
// nothing has been pushed yet.
func WithLensSource(src LensSource) Option {
	return func(f *Fixture) { f.source = src }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Fixture) { f.tracer = tp.Tracer(tracerName) }
}

// WithSleep replaces the pause between polling attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(f *Fixture) { f.sleep = fn }
}

// New builds a fixture from collaborators already in hand. Snapshots
// published on ch for uri are fed to the fixture's registry until Close.
func New(cfg Config, uri string, trigger Trigger, ch *lens.Channel, opts ...Option) *Fixture {
	f := &Fixture{
		cfg:      cfg,
		uri:      uri,
		trigger:  trigger,
		channel:  ch,
		registry: lens.NewRegistry(),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(f)
	}
	f.unsubscribe = ch.Subscribe(func(u string, s lens.Snapshot) {
		if u != f.uri {
			return
		}
		f.registry.OnSnapshot(s)
	})
	return f
}

// Start connects to the agent, authenticates it, opens doc and waits for
// the agent to settle. The whole setup is bounded by the configured wait
// timeout. Every failure is a *SetupError.
func Start(ctx context.Context, cfg Config, doc Document, opts ...Option) (f *Fixture, err error) {
	if cfg.Wait.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Wait.Timeout)
		defer cancel()
	}

	c, err := agent.Dial(ctx, cfg.AgentOptions())
	if err != nil {
		return nil, &SetupError{Stage: "dial", Err: err}
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if _, err := c.Initialize(ctx, cfg.Server.Endpoint, cfg.Server.Token); err != nil {
		return nil, &SetupError{Stage: "initialize", Err: err}
	}
	status, err := c.Status(ctx)
	if err != nil {
		return nil, &SetupError{Stage: "status", Err: err}
	}
	if !status.Authenticated {
		return nil, &SetupError{Stage: "status", Err: ErrNotAuthenticated}
	}
	log.Infof("agent authenticated as %s against %s", status.Username, status.Endpoint)

	if err := c.DidOpen(ctx, doc.URI, doc.LanguageID, doc.Text); err != nil {
		return nil, &SetupError{Stage: "open", Err: err}
	}
	if err := c.AwaitPendingPromises(ctx); err != nil {
		return nil, &SetupError{Stage: "settle", Err: err}
	}

	opts = append([]Option{WithLensSource(c)}, opts...)
	f = New(cfg, doc.URI, c.ForDocument(doc.URI), c.Lenses(), opts...)
	f.agent = c
	return f, nil
}

// URI is the document the fixture waits on.
func (f *Fixture) URI() string {
	return f.uri
}

// Config returns the fixture's configuration.
func (f *Fixture) Config() Config {
	return f.cfg
}

// Registry exposes the fixture's subscriptions for diagnostics.
func (f *Fixture) Registry() *lens.Registry {
	return f.registry
}

// Agent returns the agent connection, or nil for fixtures built with New.
func (f *Fixture) Agent() *agent.Client {
	return f.agent
}

// CurrentLenses returns the most recent snapshot pushed for the document,
// falling back to asking the lens source when nothing was pushed yet.
func (f *Fixture) CurrentLenses(ctx context.Context) (lens.Snapshot, bool) {
	if s, ok := f.channel.Latest(f.uri); ok {
		return s, true
	}
	if f.source == nil {
		return nil, false
	}
	s, err := f.source.CodeLenses(ctx, f.uri)
	if err != nil {
		log.Debugf("querying lenses of %s: %v", f.uri, err)
		return nil, false
	}
	return s, true
}

// Close detaches the fixture from the lens channel. When the fixture owns
// the agent it also reports the agent's recorded network errors, then
// shuts the agent down. Close is safe to call more than once.
func (f *Fixture) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		f.unsubscribe()
		if f.agent == nil {
			return
		}
		errs, rerr := f.agent.RequestErrors(ctx)
		if rerr != nil {
			err = multierr.Append(err, rerr)
		} else {
			reportRequestErrors(errs)
		}
		err = multierr.Append(err, f.agent.Shutdown(ctx))
		err = multierr.Append(err, f.agent.Close())
	})
	return err
}

const missingRecordingMarker = "`recordIfMissing` is"

// reportRequestErrors logs the agent's network errors and returns how many
// were requests missing from the recordings. None of them fail the run.
func reportRequestErrors(errs []agent.NetworkError) int {
	missing := 0
	for _, e := range errs {
		if strings.Contains(e.Error, missingRecordingMarker) {
			missing++
			log.Errorf("request has no recording: %s\n%s", e.Error, e.Body)
			continue
		}
		log.Warningf("agent request failed: %s", e.Error)
	}
	if missing > 0 {
		log.Errorf("%d request(s) were not recorded; re-run the tests in record mode to regenerate the recordings", missing)
	}
	return missing
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
