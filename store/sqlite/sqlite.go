/*
Package sqlite provides SQLite-backed implementations of the storage interfaces.

PURPOSE:
  Implements every persistence interface the hearts engine depends on
  (TransactionStore, StateStore, UserStore, CheckpointStore) using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The transactions table is append-only:
  - No UPDATE statements on transactions
  - No DELETE statements on transactions
  - The id PRIMARY KEY doubles as the deduplication key; a second insert
    with the same id maps to hearts.ErrDuplicateTransaction

KEY TABLES:
  transactions:     Immutable ledger of every heart change
  heart_states:     Latest per-user snapshot (hot-path read model)
  users:            Tier settings (cap, premium, timezone)
  sync_checkpoints: Last-synced watermark per user

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/hearts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  pool := hearts.NewPool(hearts.NewLedger(store), store, store, nil, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - hearts/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pulse/hearts-engine/hearts"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		challenge_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Ledger replay reads a user's full history in timestamp order (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_user_ts
		ON transactions(user_id, ts ASC, id ASC);

	-- Heart state snapshots (one row per user, slots as JSON)
	CREATE TABLE IF NOT EXISTS heart_states (
		user_id TEXT PRIMARY KEY,
		current_hearts INTEGER NOT NULL,
		max_hearts INTEGER NOT NULL,
		last_heart_lost TEXT,
		last_midnight_reset TEXT,
		slots_json TEXT NOT NULL,
		perfect_streak_count INTEGER NOT NULL DEFAULT 0,
		total_hearts_lost INTEGER NOT NULL DEFAULT 0,
		total_hearts_gained INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Users (tier settings)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		max_hearts INTEGER NOT NULL,
		premium BOOLEAN NOT NULL DEFAULT FALSE,
		timezone TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Sync checkpoints (last-synced watermark per user)
	CREATE TABLE IF NOT EXISTS sync_checkpoints (
		user_id TEXT PRIMARY KEY,
		synced_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (hearts.TransactionStore interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx hearts.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO transactions (id, user_id, ts, tx_type, amount, reason, challenge_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.UserID),
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
		string(tx.Type),
		tx.Amount,
		string(tx.Reason),
		nullString(tx.ChallengeID),
		time.Now().UTC().Format(time.RFC3339Nano),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return hearts.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// Query returns a user's transactions in (ts, id) order. A nil since returns
// the full history.
func (s *Store) Query(ctx context.Context, userID hearts.UserID, since *time.Time) ([]hearts.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, ts, tx_type, amount, reason, challenge_id
		FROM transactions
		WHERE user_id = ?
	`
	args := []any{string(userID)}

	if since != nil {
		query += " AND ts >= ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY ts ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []hearts.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// Exists checks if a transaction id is already recorded.
func (s *Store) Exists(ctx context.Context, id hearts.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE id = ?",
		string(id),
	).Scan(&count)

	return count > 0, err
}

func scanTransaction(rows *sql.Rows) (hearts.Transaction, error) {
	var (
		tx          hearts.Transaction
		ts          string
		challengeID sql.NullString
	)

	err := rows.Scan(&tx.ID, &tx.UserID, &ts, &tx.Type, &tx.Amount, &tx.Reason, &challengeID)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	tx.ChallengeID = challengeID.String
	return tx, nil
}

// =============================================================================
// STATE STORE (hearts.StateStore interface)
// =============================================================================

// slotRecord is the JSON shape of one refill slot inside slots_json.
type slotRecord struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Refilled    bool      `json:"refilled"`
}

// SaveState upserts the latest snapshot for a user.
func (s *Store) SaveState(ctx context.Context, state hearts.HeartState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := make([]slotRecord, 0, len(state.RefillSlots))
	for _, slot := range state.RefillSlots {
		slots = append(slots, slotRecord{
			ID:          string(slot.ID),
			ScheduledAt: slot.ScheduledRefillTime.UTC(),
			Refilled:    slot.IsRefilled,
		})
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}

	query := `
		INSERT INTO heart_states
		(user_id, current_hearts, max_hearts, last_heart_lost, last_midnight_reset,
		 slots_json, perfect_streak_count, total_hearts_lost, total_hearts_gained, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_hearts = excluded.current_hearts,
			max_hearts = excluded.max_hearts,
			last_heart_lost = excluded.last_heart_lost,
			last_midnight_reset = excluded.last_midnight_reset,
			slots_json = excluded.slots_json,
			perfect_streak_count = excluded.perfect_streak_count,
			total_hearts_lost = excluded.total_hearts_lost,
			total_hearts_gained = excluded.total_hearts_gained,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		string(state.UserID),
		state.CurrentHearts,
		state.MaxHearts,
		nullTime(state.LastHeartLost),
		nullTime(state.LastMidnightReset),
		string(slotsJSON),
		state.PerfectStreakCount,
		state.TotalHeartsLost,
		state.TotalHeartsGained,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadState retrieves the snapshot for a user, nil if absent.
func (s *Store) LoadState(ctx context.Context, userID hearts.UserID) (*hearts.HeartState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		state             hearts.HeartState
		lastHeartLost     sql.NullString
		lastMidnightReset sql.NullString
		slotsJSON         string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, current_hearts, max_hearts, last_heart_lost, last_midnight_reset,
		        slots_json, perfect_streak_count, total_hearts_lost, total_hearts_gained
		 FROM heart_states WHERE user_id = ?`,
		string(userID),
	).Scan(
		&state.UserID, &state.CurrentHearts, &state.MaxHearts,
		&lastHeartLost, &lastMidnightReset, &slotsJSON,
		&state.PerfectStreakCount, &state.TotalHeartsLost, &state.TotalHeartsGained,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.LastHeartLost = parseNullTime(lastHeartLost)
	state.LastMidnightReset = parseNullTime(lastMidnightReset)

	var slots []slotRecord
	if err := json.Unmarshal([]byte(slotsJSON), &slots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slots: %w", err)
	}
	for _, rec := range slots {
		state.RefillSlots = append(state.RefillSlots, hearts.RefillSlot{
			ID:                  hearts.SlotID(rec.ID),
			ScheduledRefillTime: rec.ScheduledAt,
			IsRefilled:          rec.Refilled,
		})
	}

	return &state, nil
}

// =============================================================================
// USER STORE (hearts.UserStore interface)
// =============================================================================

// SaveUser upserts a user profile.
func (s *Store) SaveUser(ctx context.Context, profile hearts.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, max_hearts, premium, timezone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			max_hearts = excluded.max_hearts,
			premium = excluded.premium,
			timezone = excluded.timezone
	`

	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		string(profile.UserID),
		profile.MaxHearts,
		profile.Premium,
		profile.Timezone,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetUser retrieves a profile by id, nil if unknown.
func (s *Store) GetUser(ctx context.Context, userID hearts.UserID) (*hearts.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		profile   hearts.UserProfile
		createdAt string
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, max_hearts, premium, timezone, created_at FROM users WHERE id = ?",
		string(userID),
	).Scan(&profile.UserID, &profile.MaxHearts, &profile.Premium, &profile.Timezone, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &profile, nil
}

// ListUsers returns all user profiles.
func (s *Store) ListUsers(ctx context.Context) ([]hearts.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, max_hearts, premium, timezone, created_at FROM users ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []hearts.UserProfile
	for rows.Next() {
		var p hearts.UserProfile
		var createdAt string
		if err := rows.Scan(&p.UserID, &p.MaxHearts, &p.Premium, &p.Timezone, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		users = append(users, p)
	}
	return users, rows.Err()
}

// =============================================================================
// CHECKPOINT STORE (hearts.CheckpointStore interface)
// =============================================================================

// SaveCheckpoint upserts the last-synced watermark for a user.
func (s *Store) SaveCheckpoint(ctx context.Context, userID hearts.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sync_checkpoints (user_id, synced_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(userID),
		at.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadCheckpoint retrieves the watermark for a user, nil if never synced.
func (s *Store) LoadCheckpoint(ctx context.Context, userID hearts.UserID) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var syncedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT synced_at FROM sync_checkpoints WHERE user_id = ?",
		string(userID),
	).Scan(&syncedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &t, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "heart_states", "users", "sync_checkpoints"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
