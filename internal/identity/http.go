package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

// HTTPProviderName identifies the remote provider in logs and metrics.
const HTTPProviderName = "http"

// maxErrorBodyPreview bounds the response body kept in error context.
const maxErrorBodyPreview = 256

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	// BaseURL is the directory root; users are listed at {BaseURL}/users.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token      string
	Timeout    time.Duration
	MaxRetries int
	// RetryDelay is the first backoff delay, doubled on every retry.
	RetryDelay time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client   *http.Client
	Logger   logger.Logger
	Recorder RequestRecorder
}

// HTTPProvider lists users from a remote directory service that answers
// GET /users?pageSize=N&pageToken=T with {"users":[{"localId":..}],"nextPageToken":..}.
type HTTPProvider struct {
	baseURL    string
	token      string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	log        logger.Logger
	recorder   RequestRecorder
}

// NewHTTPProvider creates a remote provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid identity base url %q", cfg.BaseURL).
			Component("identity").
			Category(errors.CategoryConfiguration).
			Build()
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	var log logger.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.Module("identity").With(logger.String("provider", HTTPProviderName))
	}

	return &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log,
		recorder:   cfg.Recorder,
	}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return HTTPProviderName
}

// ListUsers implements Provider. Network errors, 429 and 5xx responses are
// retried with exponential backoff; other failures are returned at once.
func (p *HTTPProvider) ListUsers(ctx context.Context, pageToken string, pageSize int) (Page, error) {
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(pageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	endpoint := p.baseURL + "/users?" + query.Encode()

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(1<<(attempt-1))
			if p.log != nil {
				p.log.Debug("retrying user directory request",
					logger.Int("attempt", attempt+1),
					logger.Duration("delay", delay),
					logger.Error(lastErr))
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Page{}, errors.New(ctx.Err()).
					Component("identity").
					Category(errors.CategoryCancellation).
					Context("provider", HTTPProviderName).
					Build()
			case <-timer.C:
			}
		}

		page, retryable, err := p.fetch(ctx, endpoint)
		if err == nil {
			p.record("success")
			return page, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
		p.record("retry")
	}

	p.record("error")
	if p.log != nil {
		p.log.Warn("user directory request failed",
			logger.Int("max_retries", p.maxRetries),
			logger.Error(lastErr))
	}
	return Page{}, lastErr
}

// fetch performs one request. The bool reports whether a failure is transient.
func (p *HTTPProvider) fetch(ctx context.Context, endpoint string) (Page, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return Page{}, false, p.requestError(err, 0)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Page{}, true, errors.New(err).
			Component("identity").
			Category(errors.CategoryNetwork).
			Context("provider", HTTPProviderName).
			Context("operation", "list_users").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return Page{}, transient, p.requestError(
			fmt.Errorf("user directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			resp.StatusCode)
	}

	page, err := parsePage(resp.Body)
	if err != nil {
		return Page{}, false, errors.New(err).
			Component("identity").
			Category(errors.CategoryFileParsing).
			Context("provider", HTTPProviderName).
			Context("operation", "parse_users").
			Build()
	}
	return page, false, nil
}

func (p *HTTPProvider) requestError(err error, status int) error {
	return errors.New(err).
		Component("identity").
		Category(errors.CategoryHTTP).
		Context("provider", HTTPProviderName).
		Context("status_code", status).
		Build()
}

func (p *HTTPProvider) record(result string) {
	if p.recorder != nil {
		p.recorder.RecordIdentityRequest(HTTPProviderName, result)
	}
}

// parsePage decodes {"users":[{"localId":"..."}],"nextPageToken":"..."}.
// Both fields are optional; users without a localId are skipped.
func parsePage(r io.Reader) (Page, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("decode user page: %w", err)
	}

	var page Page
	if users, err := obj.GetObjectArray("users"); err == nil {
		page.UserIDs = make([]string, 0, len(users))
		for _, user := range users {
			id, err := user.GetString("localId")
			if err != nil || id == "" {
				continue
			}
			page.UserIDs = append(page.UserIDs, id)
		}
	} else if value, present := obj.Map()["users"]; present && value.Null() != nil {
		return Page{}, fmt.Errorf("decode user page: %w", err)
	}

	if token, err := obj.GetString("nextPageToken"); err == nil {
		page.NextPageToken = token
	}
	return page, nil
}
