package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
)

// Real-time transaction codes for the websocket feed.
const (
	wsTrPrice = "H0STCNT0" // realtime execution price
	wsTrPing  = "PINGPONG"
)

// KISTicker streams real-time prices over the KIS websocket feed. It is
// optional: the control loop polls quotes and works without it, but a
// connected ticker tightens trailing-stop reaction time.
type KISTicker struct {
	restURL   string
	wsURL     string
	appKey    string
	appSecret string
	logger    zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	approval string
	subs     map[string]bool
	onPrice  func(code string, price float64)
	onError  func(error)
	done     chan struct{}
}

// NewKISTicker creates a ticker for the given gateway endpoints.
func NewKISTicker(cfg config.GatewayConfig, creds config.Credentials, paper bool, logger zerolog.Logger) *KISTicker {
	wsURL := "ws://ops.koreainvestment.com:21000"
	if paper {
		wsURL = "ws://ops.koreainvestment.com:31000"
	}
	return &KISTicker{
		restURL:   cfg.BaseURL,
		wsURL:     wsURL,
		appKey:    creds.AppKey,
		appSecret: creds.AppSecret,
		logger:    logger,
		subs:      make(map[string]bool),
	}
}

// Connect obtains a websocket approval key and opens the feed connection.
func (t *KISTicker) Connect(ctx context.Context) error {
	key, err := t.approvalKey(ctx)
	if err != nil {
		return apperrors.Wrap(err, "websocket approval")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.wsURL, nil)
	if err != nil {
		return apperrors.NewGatewayError(apperrors.KindTransient, "", "websocket dial", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.approval = key
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(conn)
	t.logger.Info().Str("url", t.wsURL).Msg("ticker connected")
	return nil
}

// Disconnect closes the feed connection.
func (t *KISTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	close(t.done)
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Subscribe registers price updates for the given codes.
func (t *KISTicker) Subscribe(codes []string) error {
	return t.send(codes, "1")
}

// Unsubscribe stops price updates for the given codes.
func (t *KISTicker) Unsubscribe(codes []string) error {
	return t.send(codes, "2")
}

// OnPrice sets the price update handler. Must be set before Connect.
func (t *KISTicker) OnPrice(handler func(code string, price float64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPrice = handler
}

// OnError sets the feed error handler.
func (t *KISTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

func (t *KISTicker) send(codes []string, trType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return apperrors.ErrNotAuthenticated
	}

	for _, code := range codes {
		msg := map[string]interface{}{
			"header": map[string]string{
				"approval_key": t.approval,
				"custtype":     "P",
				"tr_type":      trType,
				"content-type": "utf-8",
			},
			"body": map[string]interface{}{
				"input": map[string]string{
					"tr_id":  wsTrPrice,
					"tr_key": code,
				},
			},
		}
		if err := t.conn.WriteJSON(msg); err != nil {
			return apperrors.NewGatewayError(apperrors.KindTransient, "", "websocket write", err)
		}
		t.subs[code] = trType == "1"
	}
	return nil
}

func (t *KISTicker) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.emitError(err)
			return
		}
		t.handleMessage(conn, data)
	}
}

// handleMessage parses one feed frame. Data frames are pipe-delimited:
// encrypted-flag | tr_id | record count | caret-joined fields.
func (t *KISTicker) handleMessage(conn *websocket.Conn, data []byte) {
	if len(data) == 0 {
		return
	}

	if data[0] != '0' && data[0] != '1' {
		// Control frame: subscription acks and keepalives arrive as JSON.
		if bytes.Contains(data, []byte(wsTrPing)) {
			_ = conn.WriteMessage(websocket.PongMessage, data)
		}
		return
	}

	parts := strings.SplitN(string(data), "|", 4)
	if len(parts) < 4 || parts[1] != wsTrPrice {
		return
	}

	fields := strings.Split(parts[3], "^")
	if len(fields) < 3 {
		return
	}
	code := fields[0]
	price := atof(fields[2])
	if price <= 0 {
		return
	}

	t.mu.Lock()
	handler := t.onPrice
	t.mu.Unlock()
	if handler != nil {
		handler(code, price)
	}
}

func (t *KISTicker) emitError(err error) {
	select {
	case <-t.done:
		return
	default:
	}
	t.mu.Lock()
	handler := t.onError
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// approvalKey fetches the websocket approval key. It is distinct from the
// REST access token and is requested with the secret in the body.
func (t *KISTicker) approvalKey(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     t.appKey,
		"secretkey":  t.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.restURL+"/oauth2/Approval", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ApprovalKey == "" {
		return "", fmt.Errorf("approval response missing key (status %d)", resp.StatusCode)
	}
	return out.ApprovalKey, nil
}
