// Copyright © 2024 The ELPS authors

// Package agentsim implements a scripted stand-in for the code
// intelligence agent. It speaks the same JSON-RPC protocol as the real
// agent and answers commands by replaying scripted code lens snapshots, so
// the wait machinery can be exercised without a live backend.
package agentsim

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luthersystems/lenswait/agent"
	"github.com/sourcegraph/conc"
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	glspserver "github.com/tliron/glsp/server"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const serverName = "lenswait-agentsim"

var log = commonlog.GetLogger("lenswait.agentsim")

var errNotInitialized = errors.New("server not initialized")

// Server is the simulated agent.
type Server struct {
	handler protocol.Handler
	glspSrv *glspserver.Server
	docs    *DocumentStore

	scripts       map[string]Script
	requiredToken string
	username      string
	requestErrors []agent.NetworkError

	// Set by initialize.
	authMu   sync.Mutex
	token    string
	endpoint string

	// Scripts still playing. playMu keeps new scripts from starting while
	// a client waits for the running ones.
	playMu  sync.RWMutex
	playing conc.WaitGroup

	// sleep pauses script playback. Overridable for testing.
	sleep func(time.Duration)

	// exitFn is called on the exit notification. Nil leaves the process
	// running and only drops the connection.
	exitFn func(int)
}

// Option configures the simulator.
type Option func(*Server)

// WithScripts replaces the whole script table, defaults included.
func WithScripts(scripts map[string]Script) Option {
	return func(s *Server) { s.scripts = scripts }
}

// WithScript adds or replaces the script for one action.
func WithScript(action string, script Script) Option {
	return func(s *Server) { s.scripts[action] = script }
}

// WithRequiredToken makes status report authenticated only for clients
// that initialized with token.
func WithRequiredToken(token string) Option {
	return func(s *Server) { s.requiredToken = token }
}

// WithUsername sets the username reported by status.
func WithUsername(name string) Option {
	return func(s *Server) { s.username = name }
}

// WithRequestErrors sets the network errors reported by
// testing/requestErrors.
func WithRequestErrors(errs ...agent.NetworkError) Option {
	return func(s *Server) { s.requestErrors = errs }
}

// WithExitFunc installs the function called on exit, typically os.Exit for
// a stdio agent.
func WithExitFunc(fn func(int)) Option {
	return func(s *Server) { s.exitFn = fn }
}

// WithDebug logs every JSON-RPC message.
func WithDebug() Option {
	return func(s *Server) { s.glspSrv.Debug = true }
}

// New creates a simulator answering the default scripts.
func New(opts ...Option) *Server {
	s := &Server{
		docs:     NewDocumentStore(),
		scripts:  make(map[string]Script),
		username: "tester",
		sleep:    time.Sleep,
	}
	for action, src := range DefaultScripts() {
		s.scripts[action] = MustParseScript(src)
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:  s.textDocumentDidOpen,
		TextDocumentDidClose: s.textDocumentDidClose,
		TextDocumentCodeLens: s.textDocumentCodeLens,

		WorkspaceExecuteCommand: s.workspaceExecuteCommand,
	}
	s.glspSrv = glspserver.NewServer(s, serverName, false)

	for _, o := range opts {
		o(s)
	}
	return s
}

// RunStdio serves a single client over stdin and stdout.
func (s *Server) RunStdio() error {
	return s.glspSrv.RunStdio()
}

// RunTCP listens on addr and serves every client that connects.
func (s *Server) RunTCP(addr string) error {
	return s.glspSrv.RunTCP(addr)
}

// RunWebSocket listens on addr and serves WebSocket clients.
func (s *Server) RunWebSocket(addr string) error {
	return s.glspSrv.RunWebSocket(addr)
}

// ServeWebSocket serves one upgraded WebSocket connection until it closes.
func (s *Server) ServeWebSocket(conn *websocket.Conn) {
	s.glspSrv.ServeWebSocket(conn)
}

// Documents exposes the simulator's open documents.
func (s *Server) Documents() *DocumentStore {
	return s.docs
}

// Actions returns the actions the simulator has scripts for, sorted.
func (s *Server) Actions() []string {
	actions := make([]string, 0, len(s.scripts))
	for a := range s.scripts {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}

// Handle serves the agent's extension methods and delegates everything
// else to the LSP handler.
func (s *Server) Handle(ctx *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	switch ctx.Method {
	case agent.MethodStatus, agent.MethodAwaitPendingPromises, agent.MethodRequestErrors:
	case protocol.MethodExit:
		// The LSP handler rejects everything after shutdown, exit included.
		return nil, true, true, s.exit(ctx)
	default:
		return s.handler.Handle(ctx)
	}
	if !s.handler.IsInitialized() {
		return nil, true, true, errNotInitialized
	}
	switch ctx.Method {
	case agent.MethodStatus:
		return s.status(), true, true, nil
	case agent.MethodAwaitPendingPromises:
		return nil, true, true, s.awaitPendingPromises()
	default:
		errs := s.requestErrors
		if errs == nil {
			errs = []agent.NetworkError{}
		}
		return agent.RequestErrorsResult{Errors: errs}, true, true, nil
	}
}

func (s *Server) initialize(_ *glsp.Context, params *protocol.InitializeParams) (any, error) {
	var opts agent.InitializationOptions
	if params.InitializationOptions != nil {
		// The options arrive as generic JSON.
		b, err := json.Marshal(params.InitializationOptions)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &opts); err != nil {
			return nil, fmt.Errorf("initializationOptions: %w", err)
		}
	}
	s.authMu.Lock()
	s.token = opts.AccessToken
	s.endpoint = opts.ServerEndpoint
	s.authMu.Unlock()

	if params.ClientInfo != nil {
		log.Infof("initialize from %s (endpoint %q)", params.ClientInfo.Name, opts.ServerEndpoint)
	}

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: s.Actions(),
	}

	version := "0.1.0"
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(_ *glsp.Context, _ *protocol.InitializedParams) error {
	return nil
}

// shutdown lets in-flight scripts finish so no push outlives the session.
func (s *Server) shutdown(_ *glsp.Context) error {
	if err := s.Wait(); err != nil {
		log.Errorf("during shutdown: %s", err)
	}
	return nil
}

func (s *Server) exit(_ *glsp.Context) error {
	if s.exitFn != nil {
		s.exitFn(0)
	}
	return nil
}

func (s *Server) setTrace(_ *glsp.Context, _ *protocol.SetTraceParams) error {
	return nil
}

func (s *Server) status() agent.AuthStatus {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	authed := s.token != "" && (s.requiredToken == "" || s.token == s.requiredToken)
	st := agent.AuthStatus{Authenticated: authed, Endpoint: s.endpoint}
	if authed {
		st.Username = s.username
	}
	return st
}

func (s *Server) awaitPendingPromises() error {
	return s.Wait()
}

// Wait blocks until every script started so far has finished playing.
// Scripts started by other clients while it waits are held back until it
// returns.
func (s *Server) Wait() error {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if r := s.playing.WaitAndRecover(); r != nil {
		return fmt.Errorf("script panicked: %v", r.Value)
	}
	return nil
}

func (s *Server) textDocumentDidOpen(_ *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	td := params.TextDocument
	s.docs.Open(td.URI, td.LanguageID, td.Version, td.Text)
	log.Debugf("opened %s", td.URI)
	return nil
}

func (s *Server) textDocumentDidClose(_ *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.docs.Close(params.TextDocument.URI)
	return nil
}

func (s *Server) textDocumentCodeLens(_ *glsp.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	doc := s.docs.Get(params.TextDocument.URI)
	if doc == nil {
		return nil, fmt.Errorf("document not open: %s", params.TextDocument.URI)
	}
	return doc.Lenses(), nil
}

// workspaceExecuteCommand starts the script for the command against the
// document named by the first argument and returns without waiting for it.
func (s *Server) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	script, ok := s.scripts[params.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", params.Command)
	}
	if len(params.Arguments) == 0 {
		return nil, fmt.Errorf("%s: missing document argument", params.Command)
	}
	uri, ok := params.Arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s: document argument is %T, not a string", params.Command, params.Arguments[0])
	}
	doc := s.docs.Get(uri)
	if doc == nil {
		return nil, fmt.Errorf("document not open: %s", uri)
	}

	log.Infof("playing %s on %s: %s", params.Command, uri, script)
	notify := ctx.Notify
	s.playMu.RLock()
	s.playing.Go(func() {
		s.play(notify, doc, script)
	})
	s.playMu.RUnlock()
	return nil, nil
}

func (s *Server) play(notify glsp.NotifyFunc, doc *Document, script Script) {
	for _, step := range script {
		if !step.Publish {
			s.sleep(step.Delay)
			continue
		}
		snap := step.Snapshot()
		doc.setLenses(snap)
		notify(agent.MethodDisplayCodeLenses, agent.DisplayCodeLensParams{
			URI:        doc.URI,
			CodeLenses: snap,
		})
	}
}
