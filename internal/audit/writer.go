package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Event is one handled (or rejected) chat command, recorded for the
// audit trail. Outcome is the plan status or the rejection reason.
type Event struct {
	Time     time.Time
	UpdateID int64
	UserID   int64
	Username string
	Command  string
	Raw      string
	Outcome  string
	Detail   string
}

// Writer persists audit events asynchronously so a slow or absent
// database never blocks command handling. Events are dropped (and
// counted) when the queue is full.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	events  chan Event
	started atomic.Bool
	dropped atomic.Uint64
}

// New connects and ensures the audit table. Returns (nil, nil) when the
// audit trail is disabled; a nil *Writer is safe to use.
func New(cfg config.AuditConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		events: make(chan Event, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) Enqueue(event Event) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("audit queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.events:
			w.write(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("audit db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	return w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		update_id BIGINT NOT NULL DEFAULT 0,
		user_id BIGINT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL,
		raw TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("command_audit")))
}

func (w *Writer) write(ctx context.Context, event Event) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, update_id, user_id, username, command, raw, outcome, detail
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)`, w.table("command_audit"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.UpdateID,
		event.UserID,
		event.Username,
		event.Command,
		event.Raw,
		event.Outcome,
		event.Detail,
	); err != nil && w.log != nil {
		w.log.Warn("audit insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
