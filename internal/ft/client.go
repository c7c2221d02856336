package ft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const apiPrefix = "/api/v1"

// ErrUnreachable marks transport-level failures (connect errors,
// request timeouts) so callers can report a venue as down without
// aborting the other venue's work.
var ErrUnreachable = errors.New("instance unreachable")

// Client talks to one freqtrade instance's control API over HTTP
// basic auth. Reads and writes carry separate rate limiters so a
// status-poll burst cannot starve a force entry.
type Client struct {
	name         string
	baseURL      string
	user         string
	pass         string
	http         *http.Client
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	log          *zap.Logger
}

func New(name, baseURL, user, pass string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:         name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		user:         user,
		pass:         pass,
		http:         &http.Client{Timeout: timeout},
		readLimiter:  rate.NewLimiter(rate.Limit(10), 10),
		writeLimiter: rate.NewLimiter(rate.Limit(2), 2),
		log:          log,
	}
}

func (c *Client) Name() string { return c.name }

// Trade is the subset of a freqtrade open-trade record the bot cares
// about: identity, direction and current profit.
type Trade struct {
	TradeID     int     `json:"trade_id"`
	Pair        string  `json:"pair"`
	IsShort     bool    `json:"is_short"`
	ProfitAbs   float64 `json:"profit_abs"`
	ProfitPct   float64 `json:"profit_pct"`
	StakeAmount float64 `json:"stake_amount"`
}

type Balance struct {
	Total float64 `json:"total"`
	Value float64 `json:"value"`
	Stake string  `json:"stake"`
}

type Count struct {
	Current    int     `json:"current"`
	Max        int     `json:"max"`
	TotalStake float64 `json:"total_stake"`
}

func (c *Client) Status(ctx context.Context) ([]Trade, error) {
	var trades []Trade
	if err := c.get(ctx, "/status", &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var balance Balance
	err := c.get(ctx, "/balance", &balance)
	return balance, err
}

func (c *Client) Count(ctx context.Context) (Count, error) {
	var count Count
	err := c.get(ctx, "/count", &count)
	return count, err
}

// ForceEnter opens a position for pair on the given side. A stake of
// zero lets the instance fall back to its own configured stake.
func (c *Client) ForceEnter(ctx context.Context, pair, side string, stake float64) error {
	payload := map[string]any{
		"pair": pair,
		"side": side,
	}
	if stake > 0 {
		payload["stakeamount"] = stake
	}
	return c.post(ctx, "/forceenter", payload, nil)
}

// ForceExit closes a single trade by id, or every open trade when
// tradeID is "all".
func (c *Client) ForceExit(ctx context.Context, tradeID string) error {
	payload := map[string]any{"tradeid": tradeID}
	return c.post(ctx, "/forceexit", payload, nil)
}

func (c *Client) Start(ctx context.Context) error {
	return c.post(ctx, "/start", nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/stop", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.readLimiter.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	url := c.baseURL + apiPrefix + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.user, c.pass)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s%s: %v", ErrUnreachable, c.name, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: http %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(preview)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, path, err)
	}
	return nil
}
