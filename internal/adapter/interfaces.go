// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package adapter provides the remote endpoint abstraction the sync core
// talks to.
//
// The primary abstraction is [RemoteEndpoint]: a request description
// (method, path, headers, body) goes in and a response (status, headers,
// body) comes out. The package ships an HTTP implementation over resty
// ([NewHTTPRemoteEndpoint]); tests substitute a gomock double or a fake
// server.
//
// Non-2xx responses are NOT returned as errors by Do. Callers classify them
// with [Classify] and may convert them with [StatusError]. Do returns an
// error wrapping [ErrTransport] only when no response was received at all.
package adapter

import (
	"context"
	"net/http"
	"time"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/remote_endpoint_mock.go -package=mock

// RemoteEndpoint executes a single request against the remote system.
type RemoteEndpoint interface {
	// Do sends req and returns the response. The call honours ctx
	// cancellation and deadline. A returned error always wraps ErrTransport.
	Do(ctx context.Context, req Request) (Response, error)
}

// Request describes one remote call.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is the outcome of a remote call that reached the server.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
}
