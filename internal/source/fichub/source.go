package fichub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"fichub_metadata/internal/domain"
)

var (
	ErrNoMetadata  = errors.New("no metadata returned")
	ErrUnsupported = errors.New("unsupported site")
)

// Config holds FicHub source configuration.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	Automated      bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SupportedSites []string
	FicTimeFormat  string
}

// Source fetches story metadata from the FicHub API.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	automated      bool
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sites          []string
	ficTimeFormat  string
	logger         *slog.Logger
}

// New creates a new FicHub source.
func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		userAgent:      cfg.UserAgent,
		automated:      cfg.Automated,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		sites:          normalizeSites(cfg.SupportedSites),
		ficTimeFormat:  cfg.FicTimeFormat,
		logger:         logger.With("component", "fichub"),
	}
}

// Supports reports whether the story URL belongs to a supported site.
func (s *Source) Supports(storyURL string) bool {
	return siteSupported(s.sites, storyURL)
}

// FetchMetadata queries the API for storyURL and normalizes the result.
func (s *Source) FetchMetadata(ctx context.Context, storyURL string) (*domain.Metadata, error) {
	if !s.Supports(storyURL) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, storyURL)
	}

	resp, err := s.fetch(ctx, storyURL)
	if err != nil {
		return nil, err
	}
	if resp.Meta == nil {
		if resp.Info != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoMetadata, resp.Info)
		}
		return nil, ErrNoMetadata
	}

	meta, ext, err := normalize(resp.Meta, s.ficTimeFormat)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	for column, raw := range ext.Unparsed {
		s.logger.Debug("counter is not a number, storing null",
			"url", storyURL,
			"column", column,
			"value", raw,
		)
	}
	return meta, nil
}

func (s *Source) fetch(ctx context.Context, storyURL string) (*APIResponse, error) {
	params := url.Values{}
	params.Set("q", storyURL)
	if s.automated {
		params.Set("automated", "true")
	}
	reqURL := s.baseURL + "?" + params.Encode()

	var resp *APIResponse
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err = s.doRequest(ctx, reqURL)
		if err == nil {
			return resp, nil
		}

		if attempt == s.maxAttempts || !isTransient(ctx, err) {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"url", storyURL,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("fetch %s: %w", storyURL, err)
}

func (s *Source) doRequest(ctx context.Context, reqURL string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var apiResp APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	s.logger.Debug("api response", "status", resp.StatusCode, "url", reqURL)

	return &apiResp, nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.code)
}

// isTransient reports whether a failed request is worth retrying: transport
// failures, timeouts, 429 and 5xx. Decode errors and 4xx are final.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
