package poller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// Status is the reachability of a probed URL.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is the published outcome of probing one URL.
type Result struct {
	URL        string    `json:"url"`
	Status     Status    `json:"status"`
	StatusCode int       `json:"statusCode,omitempty"`
	LatencyMs  int64     `json:"latencyMs"`
	CheckedAt  time.Time `json:"checkedAt"`
	Error      string    `json:"error,omitempty"`
}

const defaultProbeTimeout = 10 * time.Second

// Prober checks URLs with a HEAD request, falling back to GET for servers
// that refuse HEAD.
type Prober struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// ProberOption configures a [Prober].
type ProberOption func(*Prober)

// WithTimeout sets the per-probe timeout. Defaults to 10s.
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger for probe panics.
func WithLogger(logger *slog.Logger) ProberOption {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProber creates a [Prober] with its own pooled client.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		client:  NewClient(),
		timeout: defaultProbeTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks target once. Unreachable or invalid URLs yield a down result,
// never an error.
func (p *Prober) Probe(ctx context.Context, target string) (result Result) {
	result = Result{URL: target, CheckedAt: p.now()}

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("probe panic",
				"correlation_id", correlationID,
				"url", target,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			result.Status = StatusDown
			result.Error = fmt.Sprintf("probe panic (correlation_id: %s)", correlationID)
		}
	}()

	if err := ValidateURL(target); err != nil {
		result.Status = StatusDown
		result.Error = err.Error()
		return result
	}

	resp := p.client.Do(ctx, Request{Method: http.MethodHead, URL: target, Timeout: p.timeout})
	if resp.Error == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp = p.client.Do(ctx, Request{Method: http.MethodGet, URL: target, Timeout: p.timeout})
	}

	result.LatencyMs = resp.Latency.Milliseconds()
	result.StatusCode = resp.StatusCode
	if resp.Error != nil {
		result.Status = StatusDown
		result.Error = resp.Error.Error()
		return result
	}
	result.Status = StatusFromCode(resp.StatusCode)
	return result
}

// Close releases pooled connections.
func (p *Prober) Close() {
	p.client.Close()
}

// StatusFromCode maps HTTP status codes to a [Status].
func StatusFromCode(code int) Status {
	switch {
	case code >= 200 && code < 400:
		return StatusUp
	case code >= 400 && code < 500:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// ValidateURL reports whether target is an absolute http or https URL.
func ValidateURL(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url: missing host")
	}
	return nil
}
