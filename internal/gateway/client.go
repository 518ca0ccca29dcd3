package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/logging"
	"kis-trader/pkg/utils"
)

// Remote error codes observed from the KIS gateway.
const (
	codeRateExceeded = "EGW00201" // per-second call quota exceeded
	codeTokenExpired = "EGW00123" // access token invalid or expired
)

// Request describes one remote API call.
type Request struct {
	Method string
	Path   string
	TrID   string // transaction id header selecting the remote operation
	Query  url.Values
	Body   interface{}
}

// envelope is the common response wrapper of every KIS endpoint.
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// Client is the throttled, retrying HTTP client for the broker API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	appSecret  string
	tokenPath  string
	throttle   *Throttle
	retry      utils.RetryConfig
	logger     zerolog.Logger

	mu    sync.Mutex
	token *cachedToken
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, creds config.Credentials, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appKey:     creds.AppKey,
		appSecret:  creds.AppSecret,
		tokenPath:  cfg.TokenPath,
		throttle:   NewThrottle(cfg.MinInterval),
		retry: utils.RetryConfig{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  time.Second,
			MaxDelay:      cfg.MaxBackoff,
			BackoffFactor: 2.0,
			Retryable: func(err error) bool {
				return apperrors.KindOf(err).Retryable()
			},
		},
		logger: logger,
	}
}

// Throttle exposes the shared rate limiter so background jobs reuse it.
func (c *Client) Throttle() *Throttle {
	return c.throttle
}

// Authenticate issues a fresh access token and persists it.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshTokenLocked(ctx)
}

func (c *Client) refreshTokenLocked(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"appsecret":  c.appSecret,
	})
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindFatal, "", "encoding auth request", err)
	}

	c.throttle.Acquire()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindFatal, "", "building auth request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindTransient, "", "auth request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindTransient, "", "reading auth response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := apperrors.KindFatal
		if resp.StatusCode >= 500 {
			kind = apperrors.KindTransient
		}
		return apperrors.NewGatewayError(kind, "", fmt.Sprintf("auth returned HTTP %d: %s", resp.StatusCode, data), nil)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &tok); err != nil || tok.AccessToken == "" {
		return apperrors.NewGatewayError(apperrors.KindFatal, "", "unexpected auth response", err)
	}

	now := time.Now()
	c.token = &cachedToken{
		Token:        tok.AccessToken,
		ExpiresAt:    now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		IssuedForKey: c.appKey,
		CreatedAt:    now,
	}
	if err := saveToken(c.tokenPath, c.token); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist access token")
	}
	c.logger.Info().Time("expires_at", c.token.ExpiresAt).Msg("Access token issued")
	return nil
}

// ensureToken returns a usable bearer token, consulting the in-memory and
// on-disk caches before re-authenticating.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.token != nil && c.token.valid(c.appKey, now) {
		return c.token.Token, nil
	}

	if cached, err := loadToken(c.tokenPath); err == nil && cached.valid(c.appKey, now) {
		c.token = cached
		c.logger.Debug().Time("expires_at", cached.ExpiresAt).Msg("Reusing persisted access token")
		return cached.Token, nil
	}

	if err := c.refreshTokenLocked(ctx); err != nil {
		return "", err
	}
	return c.token.Token, nil
}

// invalidateToken drops the cached credential so the next call re-issues.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// Call performs a remote operation, decoding the response body into out
// when out is non-nil. RateLimited and Transient failures are retried with
// capped exponential backoff; AuthExpired triggers one silent token refresh
// and a single retry; Rejected and Fatal surface immediately.
func (c *Client) Call(ctx context.Context, r Request, out interface{}) error {
	err := utils.Retry(ctx, c.retry, func() error {
		return c.dispatch(ctx, r, out)
	})
	if err == nil {
		return nil
	}

	if apperrors.KindOf(err) == apperrors.KindAuthExpired {
		c.logger.Info().Str("endpoint", r.Path).Msg("Access token rejected, refreshing once")
		c.invalidateToken()
		if refreshErr := c.Authenticate(ctx); refreshErr != nil {
			return apperrors.NewGatewayError(apperrors.KindFatal, "", "token refresh failed", refreshErr)
		}
		if err = c.dispatch(ctx, r, out); err == nil {
			return nil
		}
		if apperrors.KindOf(err) == apperrors.KindAuthExpired {
			return apperrors.NewGatewayError(apperrors.KindFatal, "", "credential rejected after refresh", err)
		}
	}
	return err
}

// dispatch performs a single throttled HTTP exchange.
func (c *Client) dispatch(ctx context.Context, r Request, out interface{}) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return apperrors.NewGatewayError(apperrors.KindFatal, "", "encoding request body", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindFatal, "", "building request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", r.TrID)
	req.Header.Set("custtype", "P")

	c.throttle.Acquire()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	logging.LogAPICall(c.logger, r.Path, 1, time.Since(start), err)
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindTransient, "", "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindTransient, "", "reading response", err)
	}

	if err := classify(resp.StatusCode, data); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.NewGatewayError(apperrors.KindFatal, "", "decoding response payload", err)
		}
	}
	return nil
}

// classify maps an HTTP status and response envelope onto the error
// taxonomy. A nil return means the call succeeded.
func classify(status int, data []byte) error {
	var env envelope
	envOK := json.Unmarshal(data, &env) == nil

	if status == http.StatusOK && envOK && (env.RtCd == "0" || env.RtCd == "") {
		return nil
	}

	switch {
	case status == http.StatusTooManyRequests, envOK && env.MsgCd == codeRateExceeded:
		return apperrors.NewGatewayError(apperrors.KindRateLimited, env.MsgCd, strings.TrimSpace(env.Msg1), nil)
	case envOK && env.MsgCd == codeTokenExpired,
		status == http.StatusUnauthorized,
		envOK && strings.Contains(env.Msg1, "token"):
		return apperrors.NewGatewayError(apperrors.KindAuthExpired, env.MsgCd, strings.TrimSpace(env.Msg1), apperrors.ErrTokenExpired)
	case status >= 500:
		return apperrors.NewGatewayError(apperrors.KindTransient, env.MsgCd, fmt.Sprintf("HTTP %d", status), nil)
	case envOK && env.RtCd != "0":
		// Remote business-rule rejection (insufficient funds, bad code, ...).
		return apperrors.NewGatewayError(apperrors.KindRejected, env.MsgCd, strings.TrimSpace(env.Msg1), nil)
	default:
		return apperrors.NewGatewayError(apperrors.KindFatal, "", fmt.Sprintf("unexpected HTTP %d: %s", status, data), nil)
	}
}
