// Copyright © 2024 The ELPS authors

package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/luthersystems/lenswait/lens"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Span name and attribute keys recorded for every wait.
const (
	SpanWait          = "lenswait.wait"
	AttrAction        = attribute.Key("lenswait.action")
	AttrPredicate     = attribute.Key("lenswait.predicate")
	AttrTimeoutMillis = attribute.Key("lenswait.timeout_ms")
	AttrOutcome       = attribute.Key("lenswait.outcome")
)

// Values of AttrOutcome.
const (
	OutcomeMatched  = "matched"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeDispatch = "dispatch"
)

// RunAndWaitForCondition registers p, triggers actionID and waits for the
// first pushed snapshot that satisfies p. The subscription is registered
// before the action is dispatched so no update can be missed.
//
// It fails with a *WaitError when p reports an error, when the action
// cannot be dispatched (ErrDispatch), when timeout elapses (ErrTimeout) or
// when ctx is done. A failed wait leaves nothing behind in the registry.
func (f *Fixture) RunAndWaitForCondition(ctx context.Context, actionID string, p lens.Predicate, timeout time.Duration) (lens.Snapshot, error) {
	ctx, span := f.tracer.Start(ctx, SpanWait, trace.WithAttributes(
		semconv.CodeFunction("RunAndWaitForCondition"),
		AttrAction.String(actionID),
		AttrPredicate.String(p.String()),
		AttrTimeoutMillis.Int64(timeout.Milliseconds()),
	))
	defer span.End()

	snap, outcome, err := f.runAndWait(ctx, actionID, p, timeout)
	span.SetAttributes(AttrOutcome.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Errorf("%s", err)
		return nil, err
	}
	log.Debugf("action %s satisfied %s with %s", actionID, p, snap)
	return snap, nil
}

func (f *Fixture) runAndWait(ctx context.Context, actionID string, p lens.Predicate, timeout time.Duration) (lens.Snapshot, string, error) {
	werr := &WaitError{Action: actionID, Predicate: p.String(), Timeout: timeout}

	h := f.registry.Subscribe(p)
	if err := f.trigger.Trigger(ctx, actionID); err != nil {
		f.registry.Remove(h)
		werr.Err = fmt.Errorf("%w: %w", ErrDispatch, err)
		return nil, OutcomeDispatch, werr
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.Done():
	case <-timer.C:
		if f.registry.Remove(h) {
			werr.Err = ErrTimeout
			werr.Last, _ = f.CurrentLenses(ctx)
			return nil, OutcomeTimeout, werr
		}
		// Resolved while the timer fired.
	case <-ctx.Done():
		if f.registry.Remove(h) {
			werr.Err = ctx.Err()
			return nil, OutcomeCanceled, werr
		}
	}

	snap, err := h.Result()
	if err != nil {
		werr.Err = err
		return nil, OutcomeFailed, werr
	}
	return snap, OutcomeMatched, nil
}

// RunAndWaitForLenses triggers actionID and waits until every expected
// command id is shown, failing early if the error lens appears.
func (f *Fixture) RunAndWaitForLenses(ctx context.Context, actionID string, expected ...string) (lens.Snapshot, error) {
	return f.RunAndWaitForCondition(ctx, actionID, lens.ExactMatch(f.cfg.Lens.ErrorCommand, expected...), f.cfg.Wait.Timeout)
}

// RunAndWaitForCleanState triggers actionID and waits until the document
// shows no lenses at all.
func (f *Fixture) RunAndWaitForCleanState(ctx context.Context, actionID string) error {
	_, err := f.RunAndWaitForLenses(ctx, actionID)
	return err
}

// WaitUntilConditionTrue polls up to maxAttempts times, pausing interval
// between attempts but not after the last one. It returns nil as soon as
// poll reports true and a *PollError otherwise.
func (f *Fixture) WaitUntilConditionTrue(ctx context.Context, poll func(context.Context) bool, interval time.Duration, maxAttempts int) error {
	ctx, span := f.tracer.Start(ctx, SpanWait, trace.WithAttributes(
		semconv.CodeFunction("WaitUntilConditionTrue"),
		AttrTimeoutMillis.Int64(interval.Milliseconds()*int64(maxAttempts)),
	))
	defer span.End()

	err := pollUntil(ctx, f.sleep, poll, interval, maxAttempts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := OutcomeTimeout
		if ctx.Err() != nil {
			outcome = OutcomeCanceled
		}
		span.SetAttributes(AttrOutcome.String(outcome))
		return err
	}
	span.SetAttributes(AttrOutcome.String(OutcomeMatched))
	return nil
}

func pollUntil(ctx context.Context, sleep func(context.Context, time.Duration) error, poll func(context.Context) bool, interval time.Duration, maxAttempts int) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &PollError{Attempts: attempt - 1, Interval: interval, Err: err}
		}
		if poll(ctx) {
			log.Debugf("condition held on attempt %d", attempt)
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return &PollError{Attempts: attempt, Interval: interval, Err: err}
		}
	}
	return &PollError{Attempts: maxAttempts, Interval: interval, Err: ErrPollExhausted}
}

// WaitForSuccessfulEdit polls the document's lenses until the accept lens
// shows up, which marks an applied edit.
func (f *Fixture) WaitForSuccessfulEdit(ctx context.Context) error {
	accept := f.cfg.Lens.AcceptCommand
	return f.WaitUntilConditionTrue(ctx, func(ctx context.Context) bool {
		s, ok := f.CurrentLenses(ctx)
		return ok && s.Has(accept)
	}, f.cfg.Poll.Interval, f.cfg.Poll.Attempts)
}
