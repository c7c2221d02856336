package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/alerts"
	"github.com/WangyangYe0512/Control-Simple/internal/arm"
	"github.com/WangyangYe0512/Control-Simple/internal/basket"
	"github.com/WangyangYe0512/Control-Simple/internal/config"
	"github.com/WangyangYe0512/Control-Simple/internal/dispatch"
	"github.com/WangyangYe0512/Control-Simple/internal/ft"
	"github.com/WangyangYe0512/Control-Simple/internal/router"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

// scriptedChat feeds prepared update batches to the poll loop and
// records every outbound reply.
type scriptedChat struct {
	batches chan []alerts.Update
	replies chan string
}

func newScriptedChat() *scriptedChat {
	return &scriptedChat{
		batches: make(chan []alerts.Update, 4),
		replies: make(chan string, 16),
	}
}

func (c *scriptedChat) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]alerts.Update, error) {
	select {
	case batch := <-c.batches:
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *scriptedChat) Send(ctx context.Context, text string) error {
	c.replies <- text
	return nil
}

// stuckVenue reports positions that per-trade exits never clear, so a
// plan polling for flatness holds its lease until it is preempted or
// cancelled. Only "all" exits succeed.
type stuckVenue struct {
	mu       sync.Mutex
	trades   []ft.Trade
	exitOnce sync.Once
	exitSeen chan struct{}
}

func newStuckVenue(trades ...ft.Trade) *stuckVenue {
	return &stuckVenue{trades: trades, exitSeen: make(chan struct{})}
}

func (v *stuckVenue) Status(ctx context.Context) ([]ft.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ft.Trade, len(v.trades))
	copy(out, v.trades)
	return out, nil
}

func (v *stuckVenue) ForceEnter(ctx context.Context, pair, side string, stake float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trades = append(v.trades, ft.Trade{TradeID: len(v.trades) + 1, Pair: pair, IsShort: side == "short"})
	return nil
}

func (v *stuckVenue) ForceExit(ctx context.Context, tradeID string) error {
	v.exitOnce.Do(func() { close(v.exitSeen) })
	if tradeID == "all" {
		v.mu.Lock()
		v.trades = nil
		v.mu.Unlock()
	}
	return nil
}

func (v *stuckVenue) Start(ctx context.Context) error { return nil }
func (v *stuckVenue) Stop(ctx context.Context) error  { return nil }

func newChatApp(t *testing.T, long, short *stuckVenue) (*App, *scriptedChat) {
	t.Helper()
	store := &memoryStore{data: make(map[string]string)}
	chat := newScriptedChat()
	log := zap.NewNop()

	pairs, err := basket.New(context.Background(), []string{"SOL/USDT:USDT"}, store)
	if err != nil {
		t.Fatalf("basket: %v", err)
	}
	dispatcher := dispatch.NewDispatcher(map[dispatch.Venue]dispatch.VenueClient{
		dispatch.VenueLong:  long,
		dispatch.VenueShort: short,
	}, dispatch.NewLeases(), nil, log)
	rt := router.New(router.Config{
		Admins:   []int64{42},
		Gate:     arm.NewGate(false, time.Minute),
		Basket:   pairs,
		Executor: dispatcher,
		Defaults: dispatch.Defaults{
			PollTimeout:  2 * time.Second,
			PollInterval: 10 * time.Millisecond,
		},
		DefaultStake: 100,
		KV:           store,
		Log:          log,
	})
	a := &App{
		cfg: &config.Config{
			Telegram: config.TelegramConfig{ChatID: 100, Admins: []int64{42}, PollInterval: 50 * time.Millisecond},
		},
		log:    log,
		store:  store,
		tg:     chat,
		router: rt,
		admins: map[int64]struct{}{42: {}},
	}
	return a, chat
}

func commandUpdate(id int64, text string) alerts.Update {
	return alerts.Update{
		UpdateID: id,
		Message: &alerts.Message{
			Chat: &alerts.Chat{ID: 100},
			From: &alerts.User{ID: 42},
			Text: text,
		},
	}
}

// A command must not queue behind a prior plan's reconciliation: while
// the first entry plan holds the venue leases, a second one is rejected
// immediately.
func TestOverlappingEntryRejectedWhileVenueLeased(t *testing.T) {
	short := newStuckVenue(ft.Trade{TradeID: 1, Pair: "SOL/USDT:USDT", IsShort: true})
	long := newStuckVenue()
	a, chat := newChatApp(t, long, short)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.updateLoop(ctx)
		close(done)
	}()

	chat.batches <- []alerts.Update{commandUpdate(1, "/go_long")}
	select {
	case <-short.exitSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("first plan never issued its flatten exit")
	}

	chat.batches <- []alerts.Update{commandUpdate(2, "/go_long")}
	select {
	case reply := <-chat.replies:
		if !strings.Contains(reply, "still running") {
			t.Fatalf("expected a busy rejection, got %q", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("no busy rejection while the first plan was reconciling")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update loop did not stop")
	}
}

// /flat issued mid-plan must preempt the running reconciliation and
// complete, instead of waiting for the poll window to drain.
func TestFlatFromChatPreemptsRunningPlan(t *testing.T) {
	short := newStuckVenue(ft.Trade{TradeID: 1, Pair: "SOL/USDT:USDT", IsShort: true})
	long := newStuckVenue()
	a, chat := newChatApp(t, long, short)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.updateLoop(ctx)
		close(done)
	}()

	chat.batches <- []alerts.Update{commandUpdate(1, "/go_long")}
	select {
	case <-short.exitSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("first plan never issued its flatten exit")
	}

	chat.batches <- []alerts.Update{commandUpdate(2, "/flat")}

	var flatDone, entrySuperseded bool
	deadline := time.After(2 * time.Second)
	for !flatDone || !entrySuperseded {
		select {
		case reply := <-chat.replies:
			switch {
			case strings.Contains(reply, "flat: completed"):
				flatDone = true
			case strings.Contains(reply, "superseded"):
				entrySuperseded = true
			default:
				t.Fatalf("unexpected reply %q", reply)
			}
		case <-deadline:
			t.Fatalf("missing replies: flat done=%v, entry superseded=%v", flatDone, entrySuperseded)
		}
	}

	if trades, _ := short.Status(context.Background()); len(trades) != 0 {
		t.Fatalf("short venue still holds trades after /flat: %v", trades)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update loop did not stop")
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	a := &App{store: store, log: zap.NewNop()}

	if got := a.loadOffset(context.Background()); got != 0 {
		t.Fatalf("empty store must yield offset 0, got %d", got)
	}
	a.saveOffset(context.Background(), 1234)
	if got := a.loadOffset(context.Background()); got != 1234 {
		t.Fatalf("expected offset 1234, got %d", got)
	}

	// Garbage in the store falls back to zero instead of failing.
	_ = store.Set(context.Background(), offsetKey, "not a number")
	if got := a.loadOffset(context.Background()); got != 0 {
		t.Fatalf("expected fallback to 0, got %d", got)
	}
}

func TestRejectionText(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{arm.ErrNotArmed, "/arm"},
		{dispatch.ErrInstanceBusy, "still running"},
		{errors.New("boom"), "command failed"},
	}
	for _, tc := range cases {
		got := rejectionText(tc.err)
		if !strings.Contains(got, tc.want) {
			t.Fatalf("rejectionText(%v) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}

func TestHandleUpdateFiltersForeignTraffic(t *testing.T) {
	// The router is nil: reaching it would panic, so these cases prove
	// the update never gets that far.
	a := &App{
		cfg: &config.Config{
			Telegram: config.TelegramConfig{ChatID: 100, TopicID: 7},
		},
		log:    zap.NewNop(),
		admins: map[int64]struct{}{},
	}

	// Wrong chat.
	a.handleUpdate(context.Background(), alerts.Update{
		UpdateID: 1,
		Message: &alerts.Message{
			Chat: &alerts.Chat{ID: 999},
			From: &alerts.User{ID: 1},
			Text: "/flat",
		},
	})

	// Right chat, wrong forum topic.
	a.handleUpdate(context.Background(), alerts.Update{
		UpdateID: 2,
		Message: &alerts.Message{
			Chat:     &alerts.Chat{ID: 100},
			From:     &alerts.User{ID: 1},
			ThreadID: 8,
			Text:     "/flat",
		},
	})

	// Plain chatter is not a command.
	a.handleUpdate(context.Background(), alerts.Update{
		UpdateID: 3,
		Message: &alerts.Message{
			Chat:     &alerts.Chat{ID: 100},
			From:     &alerts.User{ID: 1},
			ThreadID: 7,
			Text:     "good morning",
		},
	})

	// No message payload at all.
	a.handleUpdate(context.Background(), alerts.Update{UpdateID: 4})
}
