// Copyright © 2024 The ELPS authors

// Package lenstest adapts harness fixtures to Go tests. Every operation
// fails the test with the wait's diagnostic instead of returning an error.
package lenstest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/luthersystems/lenswait/agentsim"
	"github.com/luthersystems/lenswait/harness"
	"github.com/luthersystems/lenswait/lens"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture is a harness.Fixture bound to a test.
type Fixture struct {
	t testing.TB
	f *harness.Fixture
}

// Start starts a fixture for doc and closes it when the test ends.
func Start(t testing.TB, cfg harness.Config, doc harness.Document, opts ...harness.Option) *Fixture {
	t.Helper()
	f, err := harness.Start(context.Background(), cfg, doc, opts...)
	require.NoError(t, err, "starting fixture for %s", doc.URI)
	return Wrap(t, f)
}

// Wrap binds an existing fixture to t and closes it when the test ends.
func Wrap(t testing.TB, f *harness.Fixture) *Fixture {
	t.Cleanup(func() {
		assert.NoError(t, f.Close(context.Background()), "closing fixture")
	})
	return &Fixture{t: t, f: f}
}

// Harness returns the underlying fixture.
func (tf *Fixture) Harness() *harness.Fixture {
	return tf.f
}

// RunAndWaitForCondition is harness.Fixture.RunAndWaitForCondition.
func (tf *Fixture) RunAndWaitForCondition(actionID string, p lens.Predicate, timeout time.Duration) lens.Snapshot {
	tf.t.Helper()
	s, err := tf.f.RunAndWaitForCondition(context.Background(), actionID, p, timeout)
	require.NoError(tf.t, err)
	return s
}

// RunAndWaitForLenses is harness.Fixture.RunAndWaitForLenses.
func (tf *Fixture) RunAndWaitForLenses(actionID string, expected ...string) lens.Snapshot {
	tf.t.Helper()
	s, err := tf.f.RunAndWaitForLenses(context.Background(), actionID, expected...)
	require.NoError(tf.t, err)
	return s
}

// RunAndWaitForCleanState is harness.Fixture.RunAndWaitForCleanState.
func (tf *Fixture) RunAndWaitForCleanState(actionID string) {
	tf.t.Helper()
	require.NoError(tf.t, tf.f.RunAndWaitForCleanState(context.Background(), actionID))
}

// WaitUntilConditionTrue is harness.Fixture.WaitUntilConditionTrue.
func (tf *Fixture) WaitUntilConditionTrue(poll func(context.Context) bool, interval time.Duration, maxAttempts int) {
	tf.t.Helper()
	require.NoError(tf.t, tf.f.WaitUntilConditionTrue(context.Background(), poll, interval, maxAttempts))
}

// WaitForSuccessfulEdit is harness.Fixture.WaitForSuccessfulEdit.
func (tf *Fixture) WaitForSuccessfulEdit() {
	tf.t.Helper()
	require.NoError(tf.t, tf.f.WaitForSuccessfulEdit(context.Background()))
}

// StartSim serves a simulated agent on a free local port for the rest of
// the test and returns a configuration that points at it. The listener,
// every connection and every playing script are gone once the test's
// cleanups have run.
func StartSim(t testing.TB, opts ...agentsim.Option) harness.Config {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sim := agentsim.New(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	var serving conc.WaitGroup
	serving.Go(func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			serving.Go(func() {
				sim.Serve(ctx, conn)
			})
		}
	})
	t.Cleanup(func() {
		_ = listener.Close()
		cancel()
		serving.Wait()
		_ = sim.Wait()
	})

	cfg := harness.DefaultConfig()
	cfg.Agent.Endpoint = "tcp://" + listener.Addr().String()
	cfg.Server.Endpoint = "https://sourcegraph.test"
	cfg.Server.Token = "lenstest"
	cfg.Poll.Interval = 50 * time.Millisecond
	return cfg
}
