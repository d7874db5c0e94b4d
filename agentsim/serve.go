// Copyright © 2024 The ELPS authors

package agentsim

import (
	"context"
	"fmt"
	"io"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/glsp"
)

// Serve runs the simulator over a single established stream, such as one
// end of a net.Pipe, until the stream closes or ctx is done.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) {
	conn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(s.handleRPC).SuppressErrClosed())
	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.DisconnectNotify()
	}
}

// handleRPC maps glsp handler results onto JSON-RPC errors the same way
// the glsp network transports do.
func (s *Server) handleRPC(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	gctx := glsp.Context{
		Method: req.Method,
		Notify: func(method string, params any) {
			if err := conn.Notify(ctx, method, params); err != nil {
				log.Errorf("notify %s: %s", method, err)
			}
		},
		Call: func(method string, params any, result any) {
			if err := conn.Call(ctx, method, params, result); err != nil {
				log.Errorf("call %s: %s", method, err)
			}
		},
	}
	if req.Params != nil {
		gctx.Params = *req.Params
	}

	if req.Method == "exit" {
		_, _, _, _ = s.Handle(&gctx)
		return nil, conn.Close()
	}

	r, validMethod, validParams, err := s.Handle(&gctx)
	switch {
	case !validMethod:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not supported: %s", req.Method),
		}
	case !validParams:
		e := &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
		if err != nil {
			e.Message = err.Error()
		}
		return nil, e
	case err != nil:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidRequest,
			Message: err.Error(),
		}
	}
	return r, nil
}
