// Copyright © 2024 The ELPS authors

package agentsim

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/luthersystems/lenswait/agent"
	"github.com/luthersystems/lenswait/lens"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const testURI = "file:///tmp/agentsim/main.go"

// pipeClient connects an agent client to s over an in-memory pipe.
func pipeClient(t *testing.T, s *Server) *agent.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverEnd, clientEnd := net.Pipe()
	go s.Serve(ctx, serverEnd)
	c := agent.NewClient(jsonrpc2.NewBufferedStream(clientEnd, jsonrpc2.VSCodeObjectCodec{}), false)
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
	})
	return c
}

// recorder collects every snapshot published on a channel.
type recorder struct {
	mu    sync.Mutex
	snaps []lens.Snapshot
}

func record(ch *lens.Channel) *recorder {
	r := &recorder{}
	ch.Subscribe(func(_ string, s lens.Snapshot) {
		r.mu.Lock()
		r.snaps = append(r.snaps, s)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) ids() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.IDs()
	}
	return out
}

func instantServer(opts ...Option) *Server {
	s := New(opts...)
	s.sleep = func(time.Duration) {}
	return s
}

func startSession(t *testing.T, c *agent.Client, token string) {
	t.Helper()
	ctx := context.Background()
	_, err := c.Initialize(ctx, "https://sourcegraph.test", token)
	require.NoError(t, err)
	require.NoError(t, c.DidOpen(ctx, testURI, "go", "package main\n"))
}

func TestInitializeAdvertisesCommands(t *testing.T) {
	s := instantServer()
	c := pipeClient(t, s)

	res, err := c.Initialize(context.Background(), "https://sourcegraph.test", "tok")
	require.NoError(t, err)
	require.NotNil(t, res.ServerInfo)
	assert.Equal(t, serverName, res.ServerInfo.Name)
	require.NotNil(t, res.Capabilities.ExecuteCommandProvider)
	assert.Contains(t, res.Capabilities.ExecuteCommandProvider.Commands, CommandDocumentCode)
	assert.NotNil(t, res.Capabilities.CodeLensProvider)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		required string
		token    string
		want     bool
	}{
		{"token", "", "tok", true},
		{"no token", "", "", false},
		{"required match", "secret", "secret", true},
		{"required mismatch", "secret", "tok", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := instantServer(WithRequiredToken(tt.required), WithUsername("alice"))
			c := pipeClient(t, s)
			_, err := c.Initialize(context.Background(), "https://sourcegraph.test", tt.token)
			require.NoError(t, err)

			st, err := c.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Authenticated)
			assert.Equal(t, "https://sourcegraph.test", st.Endpoint)
			if tt.want {
				assert.Equal(t, "alice", st.Username)
			} else {
				assert.Empty(t, st.Username)
			}
		})
	}
}

func TestExtensionMethodsRequireInitialize(t *testing.T) {
	c := pipeClient(t, instantServer())
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestExecuteCommandPlaysScript(t *testing.T) {
	s := instantServer()
	c := pipeClient(t, s)
	rec := record(c.Lenses())
	startSession(t, c, "tok")
	ctx := context.Background()

	require.NoError(t, c.ForDocument(testURI).Trigger(ctx, CommandDocumentCode))
	require.NoError(t, c.AwaitPendingPromises(ctx))

	// Pushes are read on the client's goroutine and may trail the
	// awaitPendingPromises response.
	want := [][]string{
		{CommandWorking},
		{CommandAccept, CommandUndo},
	}
	require.Eventually(t, func() bool { return len(rec.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.ids())

	current, err := c.CodeLenses(ctx, testURI)
	require.NoError(t, err)
	assert.Equal(t, []string{CommandAccept, CommandUndo}, current.IDs())
	assert.Equal(t, "Accept", lens.Title(current[0]))

	latest, ok := c.Lenses().Latest(testURI)
	require.True(t, ok)
	assert.Equal(t, current.IDs(), latest.IDs())

	require.NoError(t, c.ForDocument(testURI).Trigger(ctx, ActionAccept))
	require.NoError(t, c.AwaitPendingPromises(ctx))
	require.Eventually(t, func() bool { return len(rec.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.ids()[2])
}

func TestExecuteCommandErrors(t *testing.T) {
	c := pipeClient(t, instantServer())
	startSession(t, c, "tok")
	ctx := context.Background()

	err := c.ForDocument(testURI).Trigger(ctx, "no.such.command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	err = c.ForDocument("file:///not/open.go").Trigger(ctx, CommandDocumentCode)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not open")

	err = c.ExecuteCommand(ctx, CommandDocumentCode)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing document argument")
}

func TestCustomScript(t *testing.T) {
	s := instantServer(WithScript("custom.run", MustParseScript("[a] 1s [b] [a b]")))
	c := pipeClient(t, s)
	rec := record(c.Lenses())
	startSession(t, c, "tok")

	require.NoError(t, c.ForDocument(testURI).Trigger(context.Background(), "custom.run"))
	require.NoError(t, c.AwaitPendingPromises(context.Background()))
	require.Eventually(t, func() bool { return len(rec.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"a", "b"}}, rec.ids())
}

func TestRequestErrors(t *testing.T) {
	missing := agent.NetworkError{Error: "`recordIfMissing` is false", Body: "POST /.api/graphql"}
	c := pipeClient(t, instantServer(WithRequestErrors(missing)))
	startSession(t, c, "tok")

	errs, err := c.RequestErrors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []agent.NetworkError{missing}, errs)

	c2 := pipeClient(t, instantServer())
	startSession(t, c2, "tok")
	errs, err = c2.RequestErrors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestShutdownClosesConnection(t *testing.T) {
	exited := make(chan int, 1)
	s := instantServer(WithExitFunc(func(code int) { exited <- code }))
	c := pipeClient(t, s)
	startSession(t, c, "tok")

	require.NoError(t, c.Shutdown(context.Background()))
	select {
	case code := <-exited:
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("exit was not handled")
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection was not closed after exit")
	}
}

func TestExitHandledAfterShutdown(t *testing.T) {
	var codes []int
	s := instantServer(WithExitFunc(func(code int) { codes = append(codes, code) }))
	ctx := &glsp.Context{Method: protocol.MethodShutdown, Notify: func(string, any) {}}
	_, validMethod, _, err := s.Handle(ctx)
	require.True(t, validMethod)
	require.Error(t, err, "shutdown before initialize is rejected")

	ctx.Method = protocol.MethodExit
	_, validMethod, validParams, err := s.Handle(ctx)
	require.NoError(t, err)
	assert.True(t, validMethod)
	assert.True(t, validParams)
	assert.Equal(t, []int{0}, codes)
}

func TestConcurrentClientsShareScripts(t *testing.T) {
	s := New(WithScript("quick", MustParseScript("[a] 1ms []")))
	var wg conc.WaitGroup
	for range 3 {
		c := pipeClient(t, s)
		startSession(t, c, "tok")
		wg.Go(func() {
			ctx := context.Background()
			for range 10 {
				assert.NoError(t, c.ExecuteCommand(ctx, "quick", testURI))
				assert.NoError(t, c.AwaitPendingPromises(ctx))
			}
		})
	}
	wg.Wait()
	require.NoError(t, s.Wait())
	assert.Empty(t, s.Documents().Get(testURI).Lenses())
}

func TestDidCloseForgetsDocument(t *testing.T) {
	s := instantServer()
	ctx := &glsp.Context{Notify: func(string, any) {}}
	require.NoError(t, s.textDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: testURI, LanguageID: "go", Version: 1},
	}))
	assert.Equal(t, 1, s.Documents().Len())
	require.NoError(t, s.textDocumentDidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: testURI},
	}))
	assert.Nil(t, s.Documents().Get(testURI))
}

func TestPlayCapturesNotifications(t *testing.T) {
	s := instantServer()
	doc := s.docs.Open(testURI, "go", 1, "")
	var methods []string
	var pushed []agent.DisplayCodeLensParams
	notify := func(method string, params any) {
		methods = append(methods, method)
		pushed = append(pushed, params.(agent.DisplayCodeLensParams))
	}
	s.play(notify, doc, MustParseScript("[a] 5ms []"))

	assert.Equal(t, []string{agent.MethodDisplayCodeLenses, agent.MethodDisplayCodeLenses}, methods)
	require.Len(t, pushed, 2)
	assert.Equal(t, testURI, pushed[0].URI)
	assert.Len(t, pushed[0].CodeLenses, 1)
	assert.Empty(t, pushed[1].CodeLenses)
	assert.Empty(t, doc.Lenses())
}
