package state

import "context"

// Store is a small durable key/value surface shared by the components
// that must survive a restart: the telegram update offset, the accepted
// basket, auto-toggle baselines and the last dispatch snapshot.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
