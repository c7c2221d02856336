package basket

import (
	"context"
	"sync"
	"testing"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
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

func TestReplaceDeduplicatesPreservingOrder(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, []string{"BTC/USDT:USDT"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input := []string{"SOL/USDT:USDT", "SOL/USDT:USDT", "DOGE/USDT:USDT"}
	if err := store.Replace(ctx, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := store.Snapshot()
	want := []string{"SOL/USDT:USDT", "DOGE/USDT:USDT"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestReplaceRejectsMalformedPair(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, []string{"BTC/USDT:USDT"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := store.Snapshot()
	if err := store.Replace(ctx, []string{"SOL/USDT:USDT", "solusdt"}); err == nil {
		t.Fatalf("expected error for malformed pair")
	}
	after := store.Snapshot()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("basket should be unchanged after rejected replace, got %v", after)
	}
}

func TestReplaceRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, []string{"BTC/USDT:USDT"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Replace(ctx, nil); err == nil {
		t.Fatalf("expected error for empty basket")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, []string{"BTC/USDT:USDT", "ETH/USDT:USDT"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := store.Snapshot()
	snap[0] = "mutated"
	if store.Snapshot()[0] != "BTC/USDT:USDT" {
		t.Fatalf("snapshot mutation leaked into store")
	}
}

func TestPersistedBasketWinsOverBootstrap(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryStore()

	first, err := New(ctx, []string{"BTC/USDT:USDT"}, kv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := first.Replace(ctx, []string{"SOL/USDT:USDT"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := New(ctx, []string{"BTC/USDT:USDT"}, kv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := second.Snapshot()
	if len(got) != 1 || got[0] != "SOL/USDT:USDT" {
		t.Fatalf("expected persisted basket to win, got %v", got)
	}
}

func TestValidatePair(t *testing.T) {
	valid := []string{"SOL/USDT:USDT", "DOGE/USDT:USDT", "1000PEPE/USDT:USDT"}
	for _, pair := range valid {
		if err := ValidatePair(pair); err != nil {
			t.Fatalf("expected %s to be valid: %v", pair, err)
		}
	}
	invalid := []string{"", "SOL", "SOL/USDT", "sol/usdt:usdt", "SOL/USDT:", "SOL-USDT:USDT"}
	for _, pair := range invalid {
		if err := ValidatePair(pair); err == nil {
			t.Fatalf("expected %s to be invalid", pair)
		}
	}
}
