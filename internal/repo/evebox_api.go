package repo

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/eveboxstack/evebox-review/internal/metrics"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// maxErrorBody bounds how much of a failed response is kept on the error.
const maxErrorBody = 4096

// EveBoxConfig configures the HTTP transport.
type EveBoxConfig struct {
	BaseURL            string
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool
	RequestsPerSecond  float64
	Burst              int
}

// TransportError describes a failed backend request: either the request never produced a
// response (Err is set) or the backend answered with a non-2xx status.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       []byte
	// Payload is the decoded JSON error body when the backend sent one.
	Payload any
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	msg := fmt.Sprintf("%s %s: evebox returned %s", e.Method, e.Path, e.Status)
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		msg += ": " + body
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EveBoxAPI issues JSON requests against the EveBox HTTP API.
type EveBoxAPI struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	latency    *utils.LatencyTracker
	logger     *slog.Logger
}

// NewEveBoxAPI constructs a client targeting the configured EveBox instance.
func NewEveBoxAPI(cfg EveBoxConfig, logger *slog.Logger) *EveBoxAPI {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &EveBoxAPI{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: limiter,
		latency: utils.NewLatencyTracker(256),
		logger:  utils.Component(logger, "evebox-api"),
	}
}

// Latency exposes the request latency tracker.
func (c *EveBoxAPI) Latency() *utils.LatencyTracker {
	return c.latency
}

// Get issues a GET with query parameters and decodes the JSON response into out.
func (c *EveBoxAPI) Get(ctx context.Context, p string, params url.Values, out any) error {
	endpoint := c.resolvePath(p)
	if endpoint != "" && len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, p, endpoint, nil, out)
}

// Post issues a POST with body encoded as JSON and decodes the JSON response into out.
// A nil body sends an empty JSON object.
func (c *EveBoxAPI) Post(ctx context.Context, p string, body any, out any) error {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Method: http.MethodPost, Path: p, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return c.do(ctx, http.MethodPost, p, c.resolvePath(p), payload, out)
}

func (c *EveBoxAPI) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	// p arrives with its segments already escaped; keep that encoding so it is not
	// escaped a second time.
	rel, err := url.Parse(cleaned)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.RawPath = path.Join(u.EscapedPath(), rel.EscapedPath())
	u.Path = path.Join(u.Path, rel.Path)
	return u.String()
}

func (c *EveBoxAPI) do(ctx context.Context, method, p, endpoint string, payload []byte, out any) (err error) {
	if c == nil {
		return &TransportError{Method: method, Path: p, Err: errors.New("evebox client not initialised")}
	}
	if endpoint == "" {
		return &TransportError{Method: method, Path: p, Err: errors.New("evebox base URL not configured")}
	}

	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		c.latency.Observe(elapsed)
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.ObserveRequest(method, elapsed, outcome)
		c.logger.Debug("evebox request",
			slog.String("method", method),
			slog.String("path", p),
			slog.Duration("elapsed", elapsed),
			slog.Bool("ok", err == nil))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Method: method, Path: p, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &TransportError{Method: method, Path: p, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: p, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		terr := &TransportError{
			Method:     method,
			Path:       p,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       data,
		}
		var decoded any
		if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &decoded) == nil {
			terr.Payload = decoded
		}
		return terr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &TransportError{Method: method, Path: p, StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
