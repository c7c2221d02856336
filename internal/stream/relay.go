package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Sink receives formatted fill notifications. Satisfied by the
// Telegram transport.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// message is the freqtrade websocket envelope.
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// fill is the subset of an entry_fill / exit_fill payload worth
// relaying to chat.
type fill struct {
	Pair         string  `json:"pair"`
	Direction    string  `json:"direction"`
	Amount       float64 `json:"amount"`
	OpenRate     float64 `json:"open_rate"`
	ExitRate     float64 `json:"close_rate"`
	ProfitAmount float64 `json:"profit_amount"`
	ProfitRatio  float64 `json:"profit_ratio"`
}

var subscribeMessage = map[string]any{
	"type": "subscribe",
	"data": []string{"entry_fill", "exit_fill"},
}

// Relay maintains a websocket to one venue's message stream and
// forwards fill events to the sink. It reconnects forever until the
// context is cancelled; a down venue only costs notifications, never
// command handling.
type Relay struct {
	venue          string
	url            string
	reconnectDelay time.Duration
	sink           Sink
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRelay builds a relay for the venue's message websocket. The token
// is the ws_token from the instance's api_server config.
func NewRelay(venue, baseURL, token string, reconnectDelay time.Duration, sink Sink, log *zap.Logger) (*Relay, error) {
	wsURL, err := endpointURL(baseURL, token)
	if err != nil {
		return nil, err
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Relay{
		venue:          venue,
		url:            wsURL,
		reconnectDelay: reconnectDelay,
		sink:           sink,
		log:            log,
	}, nil
}

func endpointURL(baseURL, token string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("stream: bad base url %q: %w", baseURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("stream: unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path += "/api/v1/message/ws"
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Run connects, subscribes and reads until ctx is cancelled,
// reconnecting after reconnectDelay on any stream error.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if err := r.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("stream connect failed",
				zap.String("venue", r.venue),
				zap.Error(err),
			)
		} else {
			err := r.readLoop(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logReadError(err)
			r.reset()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.reconnectDelay):
		}
	}
}

func (r *Relay) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(subscribeMessage)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe encode")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe write")
		return err
	}
	r.conn = conn
	return nil
}

func (r *Relay) readLoop(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("stream not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		r.handle(ctx, data)
	}
}

func (r *Relay) handle(ctx context.Context, data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Debug("stream: unparseable frame", zap.String("venue", r.venue), zap.Error(err))
		return
	}
	switch msg.Type {
	case "entry_fill", "exit_fill":
	default:
		return
	}
	var f fill
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		r.log.Debug("stream: unparseable fill", zap.String("venue", r.venue), zap.Error(err))
		return
	}
	text := formatFill(r.venue, msg.Type, f)
	if err := r.sink.Send(ctx, text); err != nil {
		r.log.Warn("stream: notify failed", zap.String("venue", r.venue), zap.Error(err))
	}
}

func formatFill(venue, kind string, f fill) string {
	if kind == "entry_fill" {
		return fmt.Sprintf("[%s] entered %s %s %.4f @ %.6f", venue, f.Direction, f.Pair, f.Amount, f.OpenRate)
	}
	return fmt.Sprintf("[%s] exited %s %s @ %.6f, pnl %.2f (%.2f%%)",
		venue, f.Direction, f.Pair, f.ExitRate, f.ProfitAmount, f.ProfitRatio*100)
}

func (r *Relay) logReadError(err error) {
	if err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		r.log.Info("stream closed", zap.String("venue", r.venue))
		return
	}
	r.log.Warn("stream read ended", zap.String("venue", r.venue), zap.Error(err))
}

func (r *Relay) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close(websocket.StatusNormalClosure, "reset")
		r.conn = nil
	}
}
