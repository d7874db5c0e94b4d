// Copyright © 2024 The ELPS authors

// Package agent is a JSON-RPC client for a code-intelligence agent
// process. It speaks LSP plus the agent's testing extensions and turns the
// agent's code lens pushes into snapshots on a lens.Channel.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/luthersystems/lenswait/lens"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/multierr"
)

const clientName = "lenswait"

var log = commonlog.GetLogger("lenswait.agent")

// ErrNoEndpoint is returned by Dial when neither an endpoint nor a command
// is configured.
var ErrNoEndpoint = errors.New("agent: no endpoint or command configured")

// Options select how to reach the agent.
type Options struct {
	// Endpoint is tcp://host:port or ws://host:port/path.
	Endpoint string
	// Command spawns the agent and talks to it over its stdio. It takes
	// precedence over Endpoint.
	Command []string
	// Env is appended to the spawned agent's environment.
	Env []string
	// Debug logs every JSON-RPC message.
	Debug bool
}

// Client is a connection to one agent.
type Client struct {
	conn   *jsonrpc2.Conn
	lenses *lens.Channel
	proc   *exec.Cmd
}

// Dial connects to the agent described by opts.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if len(opts.Command) > 0 {
		return spawn(opts)
	}
	if opts.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("agent: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("agent: dial %s: %w", u.Host, err)
		}
		log.Infof("connected to agent at %s", u.Host)
		return NewClient(jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}), opts.Debug), nil
	case "ws", "wss":
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.Endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("agent: dial %s: %w", opts.Endpoint, err)
		}
		log.Infof("connected to agent at %s", opts.Endpoint)
		return NewClient(wsjsonrpc2.NewObjectStream(conn), opts.Debug), nil
	default:
		return nil, fmt.Errorf("agent: unsupported endpoint scheme %q", u.Scheme)
	}
}

// stdioPipe joins a child's stdout and stdin into one stream.
type stdioPipe struct {
	io.ReadCloser
	io.WriteCloser
}

func (p stdioPipe) Close() error {
	return multierr.Append(p.WriteCloser.Close(), p.ReadCloser.Close())
}

func spawn(opts Options) (*Client, error) {
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent: start %s: %w", strings.Join(opts.Command, " "), err)
	}
	log.Infof("spawned agent %s (pid %d)", opts.Command[0], cmd.Process.Pid)

	c := NewClient(jsonrpc2.NewBufferedStream(stdioPipe{stdout, stdin}, jsonrpc2.VSCodeObjectCodec{}), opts.Debug)
	c.proc = cmd
	return c, nil
}

// NewClient runs the client side of the protocol over an established
// stream.
func NewClient(stream jsonrpc2.ObjectStream, debug bool) *Client {
	c := &Client{lenses: lens.NewChannel()}
	connOpts := []jsonrpc2.ConnOpt{jsonrpc2.SetLogger(rpcLogger{})}
	if debug {
		connOpts = append(connOpts, jsonrpc2.LogMessages(rpcLogger{}))
	}
	c.conn = jsonrpc2.NewConn(context.Background(), stream,
		jsonrpc2.HandlerWithError(c.handle).SuppressErrClosed(), connOpts...)
	return c
}

// Lenses returns the channel the agent's code lens pushes are published on.
func (c *Client) Lenses() *lens.Channel {
	return c.lenses
}

// Done is closed when the connection to the agent is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

// handle serves requests and notifications initiated by the agent.
func (c *Client) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case MethodDisplayCodeLenses:
		if req.Params == nil {
			return nil, errors.New("missing params")
		}
		var params DisplayCodeLensParams
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.Method, err)
		}
		c.lenses.Publish(params.URI, lens.Snapshot(params.CodeLenses))
		return nil, nil
	case protocol.ServerWindowLogMessage, protocol.ServerWindowShowMessage, protocol.MethodProgress:
		if req.Params != nil {
			log.Debugf("%s: %s", req.Method, *req.Params)
		}
		return nil, nil
	}
	if req.Notif {
		log.Debugf("ignoring notification %s", req.Method)
		return nil, nil
	}
	return nil, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("method not supported: %s", req.Method),
	}
}

// Initialize performs the LSP handshake, handing the agent the server it
// should talk to and the token to authenticate with.
func (c *Client) Initialize(ctx context.Context, serverEndpoint, token string) (*protocol.InitializeResult, error) {
	version := "0.1.0"
	params := protocol.InitializeParams{
		InitializationOptions: InitializationOptions{
			ServerEndpoint: serverEndpoint,
			AccessToken:    token,
		},
	}
	params.ClientInfo = &struct {
		Name    string  `json:"name"`
		Version *string `json:"version,omitempty"`
	}{Name: clientName, Version: &version}

	var result protocol.InitializeResult
	if err := c.conn.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("agent: initialize: %w", err)
	}
	if err := c.conn.Notify(ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return nil, fmt.Errorf("agent: initialized: %w", err)
	}
	return &result, nil
}

// Status reports whether the agent is authenticated.
func (c *Client) Status(ctx context.Context) (AuthStatus, error) {
	var status AuthStatus
	if err := c.conn.Call(ctx, MethodStatus, nil, &status); err != nil {
		return AuthStatus{}, fmt.Errorf("agent: status: %w", err)
	}
	return status, nil
}

// AwaitPendingPromises blocks until the agent reports no work in flight.
func (c *Client) AwaitPendingPromises(ctx context.Context) error {
	if err := c.conn.Call(ctx, MethodAwaitPendingPromises, nil, nil); err != nil {
		return fmt.Errorf("agent: await pending promises: %w", err)
	}
	return nil
}

// RequestErrors returns the network errors the agent recorded.
func (c *Client) RequestErrors(ctx context.Context) ([]NetworkError, error) {
	var result RequestErrorsResult
	if err := c.conn.Call(ctx, MethodRequestErrors, nil, &result); err != nil {
		return nil, fmt.Errorf("agent: request errors: %w", err)
	}
	return result.Errors, nil
}

// DidOpen tells the agent a document is open in the editor.
func (c *Client) DidOpen(ctx context.Context, uri, languageID, text string) error {
	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	}
	if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
		return fmt.Errorf("agent: didOpen %s: %w", uri, err)
	}
	return nil
}

// CodeLenses asks the agent for the current lenses of uri.
func (c *Client) CodeLenses(ctx context.Context, uri string) (lens.Snapshot, error) {
	params := protocol.CodeLensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}
	var result []protocol.CodeLens
	if err := c.conn.Call(ctx, protocol.MethodTextDocumentCodeLens, params, &result); err != nil {
		return nil, fmt.Errorf("agent: codeLens %s: %w", uri, err)
	}
	return lens.Snapshot(result), nil
}

// ExecuteCommand dispatches a command and returns once the agent has
// accepted it. The command's effects arrive later as lens pushes.
func (c *Client) ExecuteCommand(ctx context.Context, command string, args ...any) error {
	params := protocol.ExecuteCommandParams{Command: command, Arguments: args}
	if err := c.conn.Call(ctx, protocol.MethodWorkspaceExecuteCommand, params, nil); err != nil {
		return fmt.Errorf("agent: execute %s: %w", command, err)
	}
	return nil
}

// DocumentTrigger dispatches actions against one document.
type DocumentTrigger struct {
	client *Client
	uri    string
}

// ForDocument returns a trigger that runs actions on uri.
func (c *Client) ForDocument(uri string) DocumentTrigger {
	return DocumentTrigger{client: c, uri: uri}
}

// Trigger executes actionID with the document URI as its only argument.
func (t DocumentTrigger) Trigger(ctx context.Context, actionID string) error {
	return t.client.ExecuteCommand(ctx, actionID, t.uri)
}

// Shutdown asks the agent to shut down and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.conn.Call(ctx, protocol.MethodShutdown, nil, nil); err != nil {
		return fmt.Errorf("agent: shutdown: %w", err)
	}
	// The agent closes the connection on exit, so the notification may
	// race with the disconnect.
	if err := c.conn.Notify(ctx, protocol.MethodExit, nil); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return fmt.Errorf("agent: exit: %w", err)
	}
	return nil
}

// Close drops the connection and reaps a spawned agent.
func (c *Client) Close() error {
	err := c.conn.Close()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		err = nil
	}
	if c.proc != nil {
		if waitErr := c.proc.Wait(); waitErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				err = multierr.Append(err, waitErr)
			}
		}
	}
	return err
}

// rpcLogger routes jsonrpc2 logging to commonlog.
type rpcLogger struct{}

func (rpcLogger) Printf(format string, v ...any) {
	log.Debugf(strings.TrimSuffix(format, "\n"), v...)
}
