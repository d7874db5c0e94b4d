// Copyright © 2024 The ELPS authors

package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/luthersystems/lenswait/lens"
)

var (
	// ErrTimeout is wrapped by a WaitError when no matching snapshot
	// arrived in time.
	ErrTimeout = errors.New("timed out waiting for lenses")
	// ErrDispatch is wrapped by a WaitError when the action could not be
	// dispatched.
	ErrDispatch = errors.New("action dispatch failed")
	// ErrPollExhausted is wrapped by a PollError when every attempt failed.
	ErrPollExhausted = errors.New("condition never became true")
	// ErrNotAuthenticated is returned from Start when the agent has no
	// valid credentials.
	ErrNotAuthenticated = errors.New("agent is not authenticated")
)

// WaitError describes a failed wait.
type WaitError struct {
	Action    string
	Predicate string
	Timeout   time.Duration
	// Last is the most recent snapshot known when the wait failed. It is
	// only set for timeouts and may be nil if none was available.
	Last lens.Snapshot
	Err  error
}

func (e *WaitError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTimeout):
		last := "<none>"
		if e.Last != nil {
			last = e.Last.String()
		}
		return fmt.Sprintf("action %s: %s after %s waiting for %s; last lenses %s",
			e.Action, e.Err, e.Timeout, e.Predicate, last)
	case errors.Is(e.Err, ErrDispatch):
		return fmt.Sprintf("action %s: %s", e.Action, e.Err)
	default:
		return fmt.Sprintf("action %s: waiting for %s: %s", e.Action, e.Predicate, e.Err)
	}
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// PollError is returned when a polled condition never held.
type PollError struct {
	Attempts int
	Interval time.Duration
	// Err is ErrPollExhausted or the reason polling stopped early.
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s after %d attempts %s apart", e.Err, e.Attempts, e.Interval)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// SetupError is a fatal failure while starting a fixture.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("fixture setup (%s): %s", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
