// internal/state/sqlite.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/pkg/llm"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps conversations and price readings in one SQLite
// database. It implements both ConversationStore and PriceHistory.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. The schema
// is created on first use.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		key        TEXT PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS turns (
		conversation_id TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tool_calls      TEXT,
		tool_call_id    TEXT,
		finish_reason   TEXT,
		at              TEXT NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);
	CREATE TABLE IF NOT EXISTS price_readings (
		id       TEXT PRIMARY KEY,
		asset    TEXT NOT NULL,
		price    REAL NOT NULL,
		analysis TEXT NOT NULL,
		at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_asset_at ON price_readings(asset, at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) conversationID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, key types.ConversationKey) (types.ConversationID, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM conversations WHERE key = ?`, string(key)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query conversation: %w", err)
	}
	return types.ConversationID(id), nil
}

// Load returns the stored turns for key, or an empty conversation.
func (s *SQLiteStore) Load(ctx context.Context, key types.ConversationKey) (llm.Conversation, error) {
	id, err := s.conversationID(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return llm.Conversation{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, finish_reason, at
		 FROM turns WHERE conversation_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var records []llm.Record
	for rows.Next() {
		var (
			r                             llm.Record
			toolCalls, callID, finish, at sql.NullString
		)
		if err := rows.Scan(&r.Role, &r.Content, &toolCalls, &callID, &finish, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &r.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		r.ToolCallID = callID.String
		r.FinishReason = llm.FinishReason(finish.String)
		r.At, _ = time.Parse(timeLayout, at.String)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	conv, err := llm.FromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", key, err)
	}
	return conv, nil
}

// Save replaces the stored turns of key in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, key types.ConversationKey, conv llm.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	id, err := s.conversationID(ctx, tx, key)
	if err != nil {
		return err
	}
	if id == "" {
		id = types.NewConversationID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (key, id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			string(key), string(id), now, now); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	for i, r := range llm.ToRecords(conv, time.Now()) {
		var toolCalls sql.NullString
		if len(r.ToolCalls) > 0 {
			data, err := json.Marshal(r.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, seq, role, content, tool_calls, tool_call_id, finish_reason, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(id), i, string(r.Role), r.Content, toolCalls, r.ToolCallID, string(r.FinishReason),
			r.At.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns all conversations sorted by key with their turn counts.
func (s *SQLiteStore) List(ctx context.Context) ([]*types.ConversationIndex, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.key, c.created_at, c.updated_at, COUNT(t.seq)
		 FROM conversations c LEFT JOIN turns t ON t.conversation_id = c.id
		 GROUP BY c.id ORDER BY c.key`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []*types.ConversationIndex
	for rows.Next() {
		var (
			e                types.ConversationIndex
			created, updated string
		)
		if err := rows.Scan(&e.ID, &e.Key, &created, &updated, &e.Turns); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		e.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Delete removes a conversation and its turns.
func (s *SQLiteStore) Delete(ctx context.Context, key types.ConversationKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := s.conversationID(ctx, tx, key)
	if err != nil || id == "" {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// Append stores a reading, filling in ID and At when unset.
func (s *SQLiteStore) Append(ctx context.Context, r *types.PriceReading) error {
	if r.ID == "" {
		r.ID = types.NewReadingID()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_readings (id, asset, price, analysis, at) VALUES (?, ?, ?, ?, ?)`,
		string(r.ID), r.Asset, r.Price, r.Analysis, r.At.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns the newest reading for asset, or nil.
func (s *SQLiteStore) Latest(ctx context.Context, asset string) (*types.PriceReading, error) {
	recent, err := s.Recent(ctx, asset, 1)
	if err != nil || len(recent) == 0 {
		return nil, err
	}
	return recent[0], nil
}

// Recent returns up to limit readings for asset, newest first. A limit
// of zero or less returns all of them.
func (s *SQLiteStore) Recent(ctx context.Context, asset string, limit int) ([]*types.PriceReading, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset, price, analysis, at FROM price_readings
		 WHERE asset = ? ORDER BY at DESC, rowid DESC LIMIT ?`, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []*types.PriceReading
	for rows.Next() {
		var (
			r  types.PriceReading
			at string
		)
		if err := rows.Scan(&r.ID, &r.Asset, &r.Price, &r.Analysis, &at); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.At, _ = time.Parse(timeLayout, at)
		out = append(out, &r)
	}
	return out, rows.Err()
}
