package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(config.GatewayConfig{
		BaseURL:        baseURL,
		MinInterval:    time.Millisecond,
		MaxAttempts:    3,
		MaxBackoff:     10 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
		TokenPath:      filepath.Join(t.TempDir(), "token.json"),
	}, config.Credentials{AppKey: "app-key", AppSecret: "app-secret"}, zerolog.Nop())
	c.retry.InitialDelay = time.Millisecond
	return c
}

func authHandler(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "test-token",
		"expires_in":   86400,
	})
}

func TestCallRetriesRateLimitedThenSucceeds(t *testing.T) {
	var apiCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			authHandler(w)
			return
		}
		apiCalls++
		if apiCalls < 3 {
			json.NewEncoder(w).Encode(envelope{RtCd: "1", MsgCd: codeRateExceeded, Msg1: "초당 거래건수를 초과하였습니다"})
			return
		}
		fmt.Fprint(w, `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"ok","output":{"stck_prpr":"70000"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var out struct {
		Output struct {
			Price string `json:"stck_prpr"`
		} `json:"output"`
	}
	err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/quote", TrID: "T1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, apiCalls)
	assert.Equal(t, "70000", out.Output.Price)
}

func TestCallDoesNotRetryRejected(t *testing.T) {
	var apiCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			authHandler(w)
			return
		}
		apiCalls++
		json.NewEncoder(w).Encode(envelope{RtCd: "1", MsgCd: "APBK0952", Msg1: "주문가능금액을 초과했습니다"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	err := c.Call(context.Background(), Request{Method: http.MethodPost, Path: "/order", TrID: "T2"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, apiCalls)
	assert.Equal(t, apperrors.KindRejected, apperrors.KindOf(err))
}

func TestCallRefreshesExpiredTokenOnce(t *testing.T) {
	var authCalls, apiCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			authCalls++
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": fmt.Sprintf("token-%d", authCalls),
				"expires_in":   86400,
			})
			return
		}
		apiCalls++
		if r.Header.Get("authorization") != "Bearer token-2" {
			json.NewEncoder(w).Encode(envelope{RtCd: "1", MsgCd: codeTokenExpired, Msg1: "기간이 만료된 token 입니다"})
			return
		}
		fmt.Fprint(w, `{"rt_cd":"0"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/balance", TrID: "T3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, authCalls)
	// One rejected dispatch plus one after the silent refresh.
	assert.Equal(t, 2, apiCalls)
}

func TestCallEscalatesRepeatedAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			authHandler(w)
			return
		}
		json.NewEncoder(w).Encode(envelope{RtCd: "1", MsgCd: codeTokenExpired, Msg1: "기간이 만료된 token 입니다"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/balance", TrID: "T4"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err))
}

func TestCallReusesPersistedToken(t *testing.T) {
	var authCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			authCalls++
			authHandler(w)
			return
		}
		fmt.Fprint(w, `{"rt_cd":"0"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, saveToken(c.tokenPath, &cachedToken{
		Token:        "from-disk",
		ExpiresAt:    time.Now().Add(time.Hour),
		IssuedForKey: "app-key",
		CreatedAt:    time.Now(),
	}))

	require.NoError(t, c.Call(context.Background(), Request{Method: http.MethodGet, Path: "/quote", TrID: "T5"}, nil))
	assert.Zero(t, authCalls)
}

func TestClassifyServerErrorIsTransient(t *testing.T) {
	err := classify(http.StatusBadGateway, []byte("bad gateway"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}
