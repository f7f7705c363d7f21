package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

var errTxDone = errors.New("transaction already committed or rolled back")

// Memory is an in-process Store. Transactions stage writes privately and apply
// them under the store lock at commit, re-checking uniqueness there.
type Memory struct {
	mu       sync.RWMutex
	cities   map[string]City // coordinate key -> city
	ledger   map[string]int  // correlation id -> records
	nextID   int64
	nextGov  int64
	inserted int
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		cities: make(map[string]City),
		ledger: make(map[string]int),
	}
}

func (m *Memory) Health(context.Context) error { return nil }

func (m *Memory) ListCoordinates(context.Context) (record.CoordinateSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(record.CoordinateSet, len(m.cities))
	for _, c := range m.cities {
		set.Add(c.Coordinates)
	}
	return set, nil
}

func (m *Memory) ExistsAt(ctx context.Context, c record.Coordinates) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cities[c.Key()]
	return ok, nil
}

func (m *Memory) Insert(ctx context.Context, rec record.ValidatedRecord, created time.Time) (City, error) {
	tx, _ := m.Begin(ctx)
	defer tx.Rollback(ctx)
	city, err := tx.Insert(ctx, rec, created)
	if err != nil {
		return City{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return City{}, err
	}
	return m.Get(city.Coordinates)
}

func (m *Memory) Begin(context.Context) (ImportTx, error) {
	return &memTx{store: m, staged: make(map[string]record.ValidatedRecord)}, nil
}

// Get returns the city at c.
func (m *Memory) Get(c record.Coordinates) (City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	city, ok := m.cities[c.Key()]
	if !ok {
		return City{}, fmt.Errorf("city at %s: %w", c.Key(), sentinel.ErrNotFound)
	}
	return city, nil
}

// Len returns the number of persisted cities.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cities)
}

// Writes returns how many city rows have ever been committed.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inserted
}

func (m *Memory) AlreadyImported(_ context.Context, correlationID string) (bool, error) {
	return m.Imported(correlationID), nil
}

// Imported reports whether correlationID is in the ledger.
func (m *Memory) Imported(correlationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ledger[correlationID]
	return ok
}

type stagedRow struct {
	rec     record.ValidatedRecord
	created time.Time
}

type memTx struct {
	store  *Memory
	staged map[string]record.ValidatedRecord
	order  []stagedRow
	mark   string
	count  int
	done   bool
}

func (t *memTx) ExistsAt(ctx context.Context, c record.Coordinates) (bool, error) {
	if t.done {
		return false, errTxDone
	}
	if _, ok := t.staged[c.Key()]; ok {
		return true, nil
	}
	return t.store.ExistsAt(ctx, c)
}

func (t *memTx) Insert(ctx context.Context, rec record.ValidatedRecord, created time.Time) (City, error) {
	if t.done {
		return City{}, errTxDone
	}
	exists, err := t.ExistsAt(ctx, rec.Coordinates)
	if err != nil {
		return City{}, err
	}
	if exists {
		return City{}, fmt.Errorf("insert coordinates (%d, %d): %w", rec.Coordinates.X, rec.Coordinates.Y, sentinel.ErrConflict)
	}
	t.staged[rec.Key()] = rec
	t.order = append(t.order, stagedRow{rec: rec, created: created})
	return City{ValidatedRecord: rec, CreationDate: CreationDate(created)}, nil
}

func (t *memTx) AlreadyImported(_ context.Context, correlationID string) (bool, error) {
	if t.done {
		return false, errTxDone
	}
	return t.store.Imported(correlationID), nil
}

func (t *memTx) MarkImported(_ context.Context, correlationID string, records int) error {
	if t.done {
		return errTxDone
	}
	t.mark, t.count = correlationID, records
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range t.order {
		if _, taken := m.cities[row.rec.Key()]; taken {
			return fmt.Errorf("commit coordinates (%d, %d): %w", row.rec.Coordinates.X, row.rec.Coordinates.Y, sentinel.ErrConflict)
		}
	}
	if t.mark != "" {
		if _, dup := m.ledger[t.mark]; dup {
			return fmt.Errorf("record import %s: %w", t.mark, sentinel.ErrConflict)
		}
		m.ledger[t.mark] = t.count
	}
	for _, row := range t.order {
		m.nextID++
		city := City{ID: m.nextID, CreationDate: CreationDate(row.created), ValidatedRecord: row.rec}
		if g := row.rec.Governor; g != nil && (g.Age != nil || g.Height != nil) {
			m.nextGov++
			id := m.nextGov
			city.GovernorID = &id
		}
		m.cities[row.rec.Key()] = city
		m.inserted++
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.done = true
	t.staged = nil
	t.order = nil
	return nil
}
