package basket

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/WangyangYe0512/Control-Simple/internal/state"
)

const storeKey = "basket:pairs"

// Futures pair grammar: BASE/QUOTE:SETTLE, e.g. SOL/USDT:USDT.
var pairPattern = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+:[A-Z0-9]+$`)

// ValidatePair checks a single symbol against the pair grammar.
func ValidatePair(pair string) error {
	if !pairPattern.MatchString(pair) {
		return fmt.Errorf("invalid pair %q (want BASE/QUOTE:SETTLE)", pair)
	}
	return nil
}

// Store holds the watched-pair list. Replacements are atomic: readers
// never observe a partially updated basket.
type Store struct {
	mu    sync.RWMutex
	pairs []string
	kv    state.Store
}

// New validates and installs the initial basket. When a kv store is
// given, a previously accepted basket persisted there wins over the
// bootstrap list, and later replacements are persisted back.
func New(ctx context.Context, initial []string, kv state.Store) (*Store, error) {
	s := &Store{kv: kv}
	pairs := initial
	if kv != nil {
		raw, ok, err := kv.Get(ctx, storeKey)
		if err != nil {
			return nil, err
		}
		if ok {
			var saved []string
			if err := json.Unmarshal([]byte(raw), &saved); err == nil && len(saved) > 0 {
				pairs = saved
			}
		}
	}
	cleaned, err := normalize(pairs)
	if err != nil {
		return nil, err
	}
	s.pairs = cleaned
	return s, nil
}

// Replace validates, de-duplicates (first occurrence wins) and
// atomically swaps in the new basket.
func (s *Store) Replace(ctx context.Context, pairs []string) error {
	cleaned, err := normalize(pairs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pairs = cleaned
	s.mu.Unlock()
	if s.kv != nil {
		payload, err := json.Marshal(cleaned)
		if err != nil {
			return err
		}
		return s.kv.Set(ctx, storeKey, string(payload))
	}
	return nil
}

// Snapshot returns an immutable copy of the current basket.
func (s *Store) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.pairs))
	copy(out, s.pairs)
	return out
}

func normalize(pairs []string) ([]string, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("basket must not be empty")
	}
	seen := make(map[string]struct{}, len(pairs))
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if err := ValidatePair(pair); err != nil {
			return nil, err
		}
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		out = append(out, pair)
	}
	return out, nil
}
