// Package memory provides in-memory store implementations (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulse/hearts-engine/hearts"
)

// =============================================================================
// MEMORY STORE - Implements every hearts store interface
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	transactions map[hearts.UserID][]hearts.Transaction
	ids          map[hearts.TransactionID]bool
	states       map[hearts.UserID]hearts.HeartState
	users        map[hearts.UserID]hearts.UserProfile
	checkpoints  map[hearts.UserID]time.Time
}

func New() *Store {
	return &Store{
		transactions: make(map[hearts.UserID][]hearts.Transaction),
		ids:          make(map[hearts.TransactionID]bool),
		states:       make(map[hearts.UserID]hearts.HeartState),
		users:        make(map[hearts.UserID]hearts.UserProfile),
		checkpoints:  make(map[hearts.UserID]time.Time),
	}
}

// =============================================================================
// TRANSACTION STORE (hearts.TransactionStore interface)
// =============================================================================

// Append adds a single transaction. Append-only; dedup by id.
func (m *Store) Append(_ context.Context, tx hearts.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ids[tx.ID] {
		return hearts.ErrDuplicateTransaction
	}

	txs := m.transactions[tx.UserID]

	// Binary search for the insertion point keeps the slice in the
	// canonical (Timestamp, ID) order.
	i := sort.Search(len(txs), func(i int) bool {
		if !txs[i].Timestamp.Equal(tx.Timestamp) {
			return txs[i].Timestamp.After(tx.Timestamp)
		}
		return txs[i].ID > tx.ID
	})

	txs = append(txs, hearts.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.UserID] = txs
	m.ids[tx.ID] = true
	return nil
}

func (m *Store) Query(_ context.Context, userID hearts.UserID, since *time.Time) ([]hearts.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []hearts.Transaction
	for _, tx := range m.transactions[userID] {
		if since != nil && tx.Timestamp.Before(*since) {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

func (m *Store) Exists(_ context.Context, id hearts.TransactionID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids[id], nil
}

// =============================================================================
// STATE STORE (hearts.StateStore interface)
// =============================================================================

func (m *Store) SaveState(_ context.Context, state hearts.HeartState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.UserID] = state.Clone()
	return nil
}

func (m *Store) LoadState(_ context.Context, userID hearts.UserID) (*hearts.HeartState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	out := state.Clone()
	return &out, nil
}

// =============================================================================
// USER STORE (hearts.UserStore interface)
// =============================================================================

func (m *Store) SaveUser(_ context.Context, profile hearts.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[profile.UserID] = profile
	return nil
}

func (m *Store) GetUser(_ context.Context, userID hearts.UserID) (*hearts.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (m *Store) ListUsers(_ context.Context) ([]hearts.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]hearts.UserProfile, 0, len(m.users))
	for _, p := range m.users {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

// =============================================================================
// CHECKPOINT STORE (hearts.CheckpointStore interface)
// =============================================================================

func (m *Store) SaveCheckpoint(_ context.Context, userID hearts.UserID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[userID] = at
	return nil
}

func (m *Store) LoadCheckpoint(_ context.Context, userID hearts.UserID) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	at, ok := m.checkpoints[userID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// =============================================================================
// FAILURE INJECTION - For persistence-error tests
// =============================================================================

// Flaky wraps a Store and fails writes while tripped. Reads pass through.
type Flaky struct {
	*Store
	mu      sync.Mutex
	failErr error
}

func NewFlaky() *Flaky {
	return &Flaky{Store: New()}
}

// FailWith makes subsequent writes return err. Pass nil to heal.
func (f *Flaky) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *Flaky) writeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

func (f *Flaky) Append(ctx context.Context, tx hearts.Transaction) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	return f.Store.Append(ctx, tx)
}

func (f *Flaky) SaveState(ctx context.Context, state hearts.HeartState) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	return f.Store.SaveState(ctx, state)
}
