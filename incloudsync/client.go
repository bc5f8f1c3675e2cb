package incloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	loginPath       = "/api/v1/Auth/Login"
	defaultPageSize = 100
	maxAttempts     = 3
)

// entityPaths maps an entity kind to its remote path segments. The list
// endpoint is the plural, the detail/patch endpoint the singular.
var entityPaths = map[models.EntityKind]struct {
	list   string
	detail string
}{
	models.EntityKindCompany:  {list: "Companies", detail: "Company"},
	models.EntityKindContact:  {list: "Contacts", detail: "Contact"},
	models.EntityKindActivity: {list: "Activities", detail: "Activity"},
	entityKindUser:            {detail: "User"},
}

// entityKindUser is only ever fetched by id, for owner resolution. It is not
// a synced entity.
const entityKindUser = models.EntityKind("user")

// Client is the only component that talks to CRM InCloud. It owns the cached
// bearer token and the process-wide request budget; build one per run and
// pass it explicitly to jobs.
type Client struct {
	cfg          config.InCloudConfig
	http         *http.Client
	limiter      *rate.Limiter
	logger       *logrus.Logger
	token        string
	requestCount int64

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func NewClient(cfg config.InCloudConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMin)), 1),
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// RequestCount reports how many HTTP requests this client has issued,
// including retries and logins.
func (c *Client) RequestCount() int64 {
	return atomic.LoadInt64(&c.requestCount)
}

// Login authenticates and caches the bearer token. A 4xx response is a
// RemoteAuthError; 5xx and network errors are retried with backoff.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{
		"grant_type": "password",
		"username":   c.cfg.Username,
		"password":   c.cfg.Password,
	}
	payload, _ := json.Marshal(body)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoff(attempt))
		}
		status, respBody, err := c.issue(ctx, http.MethodPost, c.cfg.BaseURL+loginPath, payload, false)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = &RemoteClientError{Status: status, Body: string(respBody)}
			continue
		}
		if status >= 400 {
			return &RemoteAuthError{Status: status, Body: string(respBody)}
		}
		var parsed struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fmt.Errorf("incloud login: malformed response: %w", err)
		}
		if parsed.AccessToken == "" {
			return &RemoteAuthError{Status: status, Body: "empty access_token"}
		}
		c.token = parsed.AccessToken
		return nil
	}
	return fmt.Errorf("incloud login: retries exhausted: %w", lastErr)
}

// ListIDs pages through the entity's list endpoint until an empty page or
// until limit ids are collected. The remote returns flat arrays of ids.
func (c *Client) ListIDs(ctx context.Context, kind models.EntityKind, limit int) ([]int, error) {
	paths, ok := entityPaths[kind]
	if !ok || paths.list == "" {
		return nil, fmt.Errorf("entity kind %q has no list endpoint", kind)
	}

	var ids []int
	skip := 0
	for {
		pageSize := defaultPageSize
		if limit > 0 && limit-len(ids) < pageSize {
			pageSize = limit - len(ids)
		}
		if pageSize <= 0 {
			return ids, nil
		}

		url := fmt.Sprintf("%s/api/v1/%s?limit=%d&skip=%d", c.cfg.BaseURL, paths.list, pageSize, skip)
		body, err := c.request(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		var page []int
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("incloud list %s: malformed page: %w", paths.list, err)
		}
		if len(page) == 0 {
			return ids, nil
		}
		ids = append(ids, page...)
		skip += len(page)
		if limit > 0 && len(ids) >= limit {
			return ids[:limit], nil
		}
	}
}

func (c *Client) Get(ctx context.Context, kind models.EntityKind, id int) (json.RawMessage, error) {
	paths, ok := entityPaths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	url := fmt.Sprintf("%s/api/v1/%s/%d", c.cfg.BaseURL, paths.detail, id)
	return c.request(ctx, http.MethodGet, url, nil)
}

func (c *Client) Patch(ctx context.Context, kind models.EntityKind, id int, body any) (json.RawMessage, error) {
	paths, ok := entityPaths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v1/%s/%d", c.cfg.BaseURL, paths.detail, id)
	return c.request(ctx, http.MethodPatch, url, payload)
}

// request runs one authenticated call with the retry and re-login policy:
// transient failures get maxAttempts tries with exponential backoff, a 401
// triggers a single transparent re-login and replay, other 4xx surface
// immediately as RemoteClientError.
func (c *Client) request(ctx context.Context, method string, url string, payload []byte) (json.RawMessage, error) {
	if c.token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	reloggedIn := false
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoff(attempt))
		}
		status, body, err := c.issue(ctx, method, url, payload, true)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status == http.StatusUnauthorized && !reloggedIn:
			reloggedIn = true
			if err := c.Login(ctx); err != nil {
				return nil, err
			}
			attempt-- // the replay does not consume a retry
		case status >= 500:
			lastErr = &RemoteClientError{Status: status, Body: string(body)}
		case status >= 400:
			return nil, &RemoteClientError{Status: status, Body: string(body)}
		default:
			return body, nil
		}
	}
	if rce, ok := lastErr.(*RemoteClientError); ok {
		return nil, rce
	}
	return nil, &RemoteClientError{Status: 0, Body: fmt.Sprintf("retries exhausted: %v", lastErr)}
}

// issue performs a single HTTP round trip after acquiring a rate token.
func (c *Client) issue(ctx context.Context, method string, url string, payload []byte, authed bool) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("WebApiKey", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	atomic.AddInt64(&c.requestCount, 1)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

func backoff(attempt int) time.Duration {
	return time.Second * time.Duration(1<<(attempt-1))
}
