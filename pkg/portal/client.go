// Package portal downloads monthly incident exports from the PHMSA
// analytics dashboard.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/resilience"
)

// Fetcher downloads one export.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]byte, error)
}

// Query selects the incidents of one export.
type Query struct {
	// DateFrom and DateTo bound the incident date, inclusive, as YYYY-MM-DD.
	DateFrom string
	DateTo   string
	// Expand requests the full column set instead of the dashboard default.
	Expand bool
}

func (q Query) params() map[string]string {
	return map[string]string{
		"date_from": q.DateFrom,
		"date_to":   q.DateTo,
	}
}

// Config is the per-run portal configuration.
type Config struct {
	BaseURL    string
	InitURL    string
	AuthURL    string
	PortalPath string

	// QueryTemplate is the filter XML with {date_from}/{date_to} placeholders.
	QueryTemplate string
	// ClientState is the dashboard state XML posted with the query.
	ClientState string

	UserAgent         string
	Timeout           time.Duration
	PollInterval      time.Duration
	MaxPolls          int
	RequestsPerSecond float64
	Retry             resilience.RetryConfig

	// DebugDir, when set, receives a copy of every response body.
	DebugDir string
}

// DefaultConfig returns the public PHMSA endpoints. The query template and
// client state must still be supplied.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://portal.phmsa.dot.gov/analytics/saw.dll",
		InitURL:           "https://portal.phmsa.dot.gov/PDMPublicReport/?url=",
		AuthURL:           "https://portal.phmsa.dot.gov/PDMPublicReport/auth2/oam/server/auth_cred_submit",
		PortalPath:        "/shared/Public Website Pages/_portal/Hazmat Incident Report Search",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; WOW64; rv:68.0) Gecko/20100101 Firefox/68.0",
		Timeout:           2 * time.Minute,
		PollInterval:      500 * time.Millisecond,
		MaxPolls:          1200,
		RequestsPerSecond: 2,
		Retry:             resilience.DefaultRetryConfig(),
	}
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its cookie jar is replaced per fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClock sets the clock used for download ids.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client talks to the dashboard. Each Fetch runs in its own session.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *fetcher.AdaptiveLimiter
	now     func() time.Time
}

// New creates a Client. The query template is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.QueryTemplate) == "" {
		return nil, eris.New("portal: query template is required")
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: fetcher.NewAdaptiveLimiter(limit, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch runs one full dashboard session and returns the exported CSV. A
// query with no matching incidents returns ErrNoRows.
func (c *Client) Fetch(ctx context.Context, q Query) ([]byte, error) {
	s, err := c.newSession()
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "portal"),
		zap.String("date_from", q.DateFrom), zap.String("date_to", q.DateTo))

	log.Debug("initializing session")
	if err := s.initialize(ctx); err != nil {
		return nil, err
	}

	log.Debug("querying")
	viewState, download, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Expand {
		log.Debug("expanding to full set of columns")
		if _, download, err = s.expand(ctx, viewState); err != nil {
			return nil, err
		}
	}

	body, err := s.download(ctx, download, log)
	if err != nil {
		return nil, err
	}
	if IsNoRows(body) {
		return nil, ErrNoRows
	}
	log.Info("export downloaded", zap.Int("bytes", len(body)))
	return body, nil
}

type session struct {
	c       *Client
	http    *http.Client
	headers http.Header

	mu       sync.Mutex
	debugSeq int
	debugDir string
}

func (c *Client) newSession() (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "portal: create cookie jar")
	}
	hc := *c.http
	hc.Jar = jar

	s := &session{c: c, http: &hc, headers: http.Header{}}
	s.headers.Set("User-Agent", c.cfg.UserAgent)
	s.headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	s.headers.Set("Accept-Language", "en-US,en;q=0.5")
	s.headers.Set("Upgrade-Insecure-Requests", "1")
	s.headers.Set("Referer", "https://portal.phmsa.dot.gov/phmsapub/PHMSALoginForm.html")

	if c.cfg.DebugDir != "" {
		s.debugDir = filepath.Join(c.cfg.DebugDir, strings.ReplaceAll(c.now().Format("2006-01-02T15:04:05"), ":", "-"))
	}
	return s, nil
}

func (s *session) portalURL() string {
	esc := strings.ReplaceAll(url.QueryEscape(s.c.cfg.PortalPath), "+", "%20")
	return s.c.cfg.BaseURL + "?Portalpages&PortalPath=" + esc
}

// get and post retry transient failures and pace every attempt through the
// shared limiter.
func (s *session) get(ctx context.Context, name, target string) ([]byte, error) {
	return s.do(ctx, name, http.MethodGet, target, "")
}

func (s *session) post(ctx context.Context, name, target string, form url.Values) ([]byte, error) {
	return s.do(ctx, name, http.MethodPost, target, form.Encode())
}

func (s *session) do(ctx context.Context, name, method, target, body string) ([]byte, error) {
	retry := s.c.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("portal", name)

	data, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		if err := s.c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "portal: rate limiter")
		}

		var rdr io.Reader
		if body != "" {
			rdr = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rdr)
		if err != nil {
			return nil, eris.Wrapf(err, "portal: create %s request", name)
		}
		for k, v := range s.headers {
			req.Header[k] = v
		}
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "portal: %s", name)
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.Retryable(resilience.CauseTransport, eris.Wrapf(err, "portal: read %s response", name))
		}

		cause := resilience.StatusCause(resp.StatusCode)
		if cause == resilience.CauseThrottled {
			s.c.limiter.OnThrottle()
		}
		if cause != resilience.CauseNone {
			return nil, &resilience.RetryableError{
				Cause:  cause,
				Status: resp.StatusCode,
				Err:    eris.Errorf("portal: %s returned %d", name, resp.StatusCode),
			}
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, eris.Errorf("portal: %s returned %d: %s", name, resp.StatusCode, truncate(data, 200))
		}
		s.c.limiter.OnSuccess()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	s.dump(name, data)
	return data, nil
}

func (s *session) dump(name string, data []byte) {
	if s.debugDir == "" {
		return
	}
	s.mu.Lock()
	seq := s.debugSeq
	s.debugSeq++
	s.mu.Unlock()

	p := filepath.Join(s.debugDir, fmt.Sprintf("%03d-%s.html", seq, name))
	if err := fetcher.WriteBytesAtomic(p, data); err != nil {
		zap.L().Warn("portal: write debug response", zap.String("path", p), zap.Error(err))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
