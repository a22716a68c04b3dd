package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

type httpRemoteEndpoint struct {
	client *resty.Client

	logger *logger.Logger
}

// NewHTTPRemoteEndpoint constructs an HTTP implementation of [RemoteEndpoint].
// It normalises and validates cfg.BaseURL and configures the underlying resty
// client with the resolved base URL and cfg.MaxRequestTimeout as an outer
// bound. Per-request deadlines come from the caller's context.
//
// Returns an error if cfg.BaseURL is empty or cannot be parsed as a valid URL.
func NewHTTPRemoteEndpoint(cfg config.Remote, log *logger.Logger) (RemoteEndpoint, error) {
	baseURL, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote base url: %w", err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if cfg.MaxRequestTimeout > 0 {
		client.SetTimeout(cfg.MaxRequestTimeout)
	}

	return &httpRemoteEndpoint{client: client, logger: log}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// Do implements [RemoteEndpoint]. Gzip-encoded bodies are decompressed
// before being returned.
func (h *httpRemoteEndpoint) Do(ctx context.Context, req Request) (Response, error) {
	r := h.client.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	started := time.Now()
	resp, err := r.Execute(strings.ToUpper(req.Method), req.Path)
	if err != nil {
		h.logger.Debug().
			Err(err).
			Str("func", "httpRemoteEndpoint.Do").
			Str("method", req.Method).
			Str("path", req.Path).
			Msg("remote request failed")
		return Response{}, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}

	body, err := decodeBody(resp.Header().Get("Content-Encoding"), resp.Body())
	if err != nil {
		return Response{}, fmt.Errorf("%w: decode body: %w", ErrTransport, err)
	}

	return Response{
		Status:   resp.StatusCode(),
		Headers:  resp.Header(),
		Body:     body,
		Duration: time.Since(started),
	}, nil
}

func decodeBody(encoding string, body []byte) ([]byte, error) {
	if !strings.EqualFold(encoding, "gzip") || !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}
