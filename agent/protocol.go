// Copyright © 2024 The ELPS authors

package agent

import (
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Agent protocol methods beyond the standard LSP set.
const (
	// MethodStatus reports the agent's authentication state.
	MethodStatus = "extensionConfiguration/status"
	// MethodAwaitPendingPromises returns once the agent has no work in
	// flight.
	MethodAwaitPendingPromises = "testing/awaitPendingPromises"
	// MethodRequestErrors returns the network errors the agent recorded.
	MethodRequestErrors = "testing/requestErrors"
	// MethodDisplayCodeLenses is pushed by the agent whenever the lenses
	// of a document change.
	MethodDisplayCodeLenses = "codeLenses/display"
)

// InitializationOptions are sent with the initialize request.
type InitializationOptions struct {
	ServerEndpoint string `json:"serverEndpoint"`
	AccessToken    string `json:"accessToken,omitempty"`
}

// AuthStatus is the result of MethodStatus.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Endpoint      string `json:"endpoint,omitempty"`
	Username      string `json:"username,omitempty"`
}

// NetworkError is one recorded request failure.
type NetworkError struct {
	Error string `json:"error,omitempty"`
	Body  string `json:"body,omitempty"`
}

// RequestErrorsResult is the result of MethodRequestErrors.
type RequestErrorsResult struct {
	Errors []NetworkError `json:"errors"`
}

// DisplayCodeLensParams are the params of MethodDisplayCodeLenses.
type DisplayCodeLensParams struct {
	URI        protocol.DocumentUri `json:"uri"`
	CodeLenses []protocol.CodeLens  `json:"codeLenses"`
}
