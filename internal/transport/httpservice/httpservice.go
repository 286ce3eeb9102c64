// Package httpservice implements sinkcore.Service over net/http, grounded
// on the teacher's internal/app HTTP server conventions (gorilla/mux
// routing, logrus request logging). The production Service here is a plain
// net/http.Client POSTing a batch's encoded payload; gorilla/mux is used on
// the test side (see httpservice_test.go) to stand up a fake downstream
// endpoint the integration tests dispatch against.
package httpservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "ssw-egress-sink/pkg/errors"
	"ssw-egress-sink/pkg/sinkcore"
)

// Config configures the HTTP Service.
type Config struct {
	Endpoint       string
	RequestTimeout time.Duration
	ContentType    string
}

// Response carries the downstream HTTP response's outcome.
type Response struct {
	StatusCode int
}

// IsSuccessful treats 2xx as success.
func (r Response) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsTransient treats 408/429/5xx as retryable; other 4xx as permanent.
func (r Response) IsTransient() bool {
	if r.StatusCode == http.StatusRequestTimeout || r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

// Service is a sinkcore.Service backed by a single downstream HTTP
// endpoint.
type Service struct {
	cfg    Config
	logger *logrus.Logger
	client *http.Client
}

// New constructs an HTTP Service posting to cfg.Endpoint.
func New(cfg Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Service{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// PollReady always reports ready; the standard library HTTP client exposes
// no independent readiness signal, so backpressure here is observed only
// through Call's own errors and status codes (matching the Service Logic
// default in spec §4.3.1).
func (s *Service) PollReady(ctx context.Context) error {
	return nil
}

// Call POSTs request (expected []byte) to the configured endpoint.
func (s *Service) Call(ctx context.Context, request any) (sinkcore.Response, error) {
	payload, ok := request.([]byte)
	if !ok {
		return nil, apperrors.ProcessingError("httpservice.call", fmt.Sprintf("request must be []byte, got %T", request))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.ConfigError("httpservice.call", "build request").Wrap(err)
	}
	req.Header.Set("Content-Type", s.cfg.ContentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError("httpservice.call", "request failed").Wrap(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	s.logger.WithFields(logrus.Fields{
		"endpoint": s.cfg.Endpoint,
		"status":   resp.StatusCode,
	}).Debug("httpservice: dispatch completed")

	return Response{StatusCode: resp.StatusCode}, nil
}
