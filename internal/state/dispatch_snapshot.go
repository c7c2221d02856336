package state

import (
	"context"
	"encoding/json"
	"strings"
)

const DispatchSnapshotKey = "dispatch:last_result"

// DispatchSnapshot records the outcome of the most recent plan so
// /status can report it even after a restart.
type DispatchSnapshot struct {
	PlanID     string   `json:"plan_id"`
	Command    string   `json:"command"`
	Status     string   `json:"status"`
	Steps      []string `json:"steps"`
	FinishedMS int64    `json:"finished_at_ms"`
	IssuerID   int64    `json:"issuer_id,omitempty"`
	RawCommand string   `json:"raw_command,omitempty"`
}

func LoadDispatchSnapshot(ctx context.Context, store Store) (DispatchSnapshot, bool, error) {
	if store == nil {
		return DispatchSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, DispatchSnapshotKey)
	if err != nil {
		return DispatchSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return DispatchSnapshot{}, false, nil
	}
	var snapshot DispatchSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return DispatchSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveDispatchSnapshot(ctx context.Context, store Store, snapshot DispatchSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, DispatchSnapshotKey, string(payload))
}
