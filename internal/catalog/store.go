package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Row is one validity interval [ValidFrom, ValidTo) of a catalog entity.
// ValidTo is nil while the row is the entity's current definition.
type Row struct {
	Kind      EntityKind
	EntityID  string
	ValidFrom time.Time
	ValidTo   *time.Time
	Entity    Entity
}

func (r Row) Open() bool { return r.ValidTo == nil }

func (r Row) Contains(at time.Time) bool {
	if at.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || at.Before(*r.ValidTo)
}

// Version names a published catalog instant that orders can pin.
type Version struct {
	ID          uuid.UUID `json:"id"`
	EffectiveAt time.Time `json:"effective_at"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Diff is the set of row changes produced by one catalog edit.
type Diff struct {
	EffectiveAt time.Time
	// Closed holds previously open rows with their new ValidTo.
	Closed []Row
	Added  []Row
}

func (d Diff) Empty() bool { return len(d.Closed) == 0 && len(d.Added) == 0 }

type rowKey struct {
	kind EntityKind
	id   string
}

type state struct {
	rows     []Row
	open     map[rowKey]int
	versions []Version
	// snapshots caches version snapshots. Versions are frozen once
	// published, so the cache is shared by every state derived by commits.
	snapshots *sync.Map
}

// Store holds the versioned catalog in memory. Readers work on an
// immutable state; writers build a new state and publish it atomically.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[state]
	now     func() time.Time
}

type StoreOption func(*Store)

// WithStoreClock overrides the clock used to stamp new versions.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&state{open: map[rowKey]int{}, snapshots: &sync.Map{}})
	return s
}

// Load replaces the store contents with persisted rows and versions.
func (s *Store) Load(rows []Row, versions []Version) error {
	next := &state{
		rows:      slices.Clone(rows),
		open:      make(map[rowKey]int),
		versions:  slices.Clone(versions),
		snapshots: &sync.Map{},
	}

	for i, row := range next.rows {
		if row.Entity == nil || row.Entity.EntityKind() != row.Kind || row.Entity.EntityID() != row.EntityID {
			return integrityf(row.Kind, row.EntityID, "row body does not match its key")
		}
		if row.ValidTo != nil && row.ValidTo.Before(row.ValidFrom) {
			return integrityf(row.Kind, row.EntityID, "row ends before it starts")
		}
		if row.Open() {
			key := rowKey{kind: row.Kind, id: row.EntityID}
			if _, ok := next.open[key]; ok {
				return integrityf(row.Kind, row.EntityID, "more than one open row")
			}
			next.open[key] = i
		}
	}
	slices.SortStableFunc(next.versions, compareVersions)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(next)
	return nil
}

func compareVersions(a, b Version) int {
	return cmp.Or(a.EffectiveAt.Compare(b.EffectiveAt), a.CreatedAt.Compare(b.CreatedAt))
}

// AsOf returns the catalog as it was at the given instant.
func (s *Store) AsOf(at time.Time) (*Snapshot, error) {
	return snapshotAt(s.current.Load().rows, at)
}

func snapshotAt(rows []Row, at time.Time) (*Snapshot, error) {
	seen := make(map[rowKey]struct{})
	entities := make([]Entity, 0, len(rows))
	for _, row := range rows {
		if !row.Contains(at) {
			continue
		}
		key := rowKey{kind: row.Kind, id: row.EntityID}
		if _, ok := seen[key]; ok {
			return nil, integrityf(row.Kind, row.EntityID, "overlapping validity intervals at %s", at.Format(time.RFC3339))
		}
		seen[key] = struct{}{}
		entities = append(entities, row.Entity)
	}
	return NewSnapshot(at, entities)
}

// History returns every row of one entity ordered by ValidFrom.
func (s *Store) History(kind EntityKind, id string) []Row {
	var rows []Row
	for _, row := range s.current.Load().rows {
		if row.Kind == kind && row.EntityID == id {
			rows = append(rows, row)
		}
	}
	slices.SortStableFunc(rows, func(a, b Row) int { return a.ValidFrom.Compare(b.ValidFrom) })
	return rows
}

// Versions returns every version ordered by effective instant.
func (s *Store) Versions() []Version {
	return slices.Clone(s.current.Load().versions)
}

func (s *Store) Version(id uuid.UUID) (Version, bool) {
	for _, v := range s.current.Load().versions {
		if v.ID == id {
			return v, true
		}
	}
	return Version{}, false
}

// LatestVersion returns the most recent version in effect at the instant.
func (s *Store) LatestVersion(at time.Time) (Version, bool) {
	versions := s.current.Load().versions
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].EffectiveAt.After(at) {
			return versions[i], true
		}
	}
	return Version{}, false
}

// SnapshotForVersion returns the frozen catalog of a version.
func (s *Store) SnapshotForVersion(id uuid.UUID) (*Snapshot, error) {
	st := s.current.Load()
	if cached, ok := st.snapshots.Load(id); ok {
		return cached.(*Snapshot), nil
	}

	idx := slices.IndexFunc(st.versions, func(v Version) bool { return v.ID == id })
	if idx < 0 {
		return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
	}
	snapshot, err := snapshotAt(st.rows, st.versions[idx].EffectiveAt)
	if err != nil {
		return nil, err
	}
	snapshot = snapshot.withVersion(id)
	st.snapshots.Store(id, snapshot)
	return snapshot, nil
}

// NewVersion validates and stamps a version without publishing it, so the
// caller can persist it first and then call AddVersion.
func (s *Store) NewVersion(effectiveAt time.Time, description string) (Version, error) {
	st := s.current.Load()
	if err := checkVersionOrder(st, effectiveAt); err != nil {
		return Version{}, err
	}
	if _, err := snapshotAt(st.rows, effectiveAt); err != nil {
		return Version{}, err
	}
	return Version{
		ID:          uuid.New(),
		EffectiveAt: effectiveAt,
		Description: description,
		CreatedAt:   s.now(),
	}, nil
}

// AddVersion publishes a version produced by NewVersion.
func (s *Store) AddVersion(v Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.current.Load()
	if err := checkVersionOrder(st, v.EffectiveAt); err != nil {
		return err
	}
	next := *st
	next.versions = append(slices.Clone(st.versions), v)
	s.current.Store(&next)
	return nil
}

// CreateVersion stamps and publishes a version in one step.
func (s *Store) CreateVersion(effectiveAt time.Time, description string) (Version, error) {
	v, err := s.NewVersion(effectiveAt, description)
	if err != nil {
		return Version{}, err
	}
	if err := s.AddVersion(v); err != nil {
		return Version{}, err
	}
	return v, nil
}

func checkVersionOrder(st *state, effectiveAt time.Time) error {
	if n := len(st.versions); n > 0 && effectiveAt.Before(st.versions[n-1].EffectiveAt) {
		return fmt.Errorf("version effective %s precedes %s: %w",
			effectiveAt.Format(time.RFC3339), st.versions[n-1].EffectiveAt.Format(time.RFC3339), ErrHistoryRewrite)
	}
	return nil
}

// Pending is a prepared catalog edit that has not been published.
type Pending struct {
	base *state
	next *state
	diff Diff
}

func (p *Pending) Diff() Diff { return p.diff }

// Prepare runs fn against a private copy of the catalog with every change
// taking effect at effectiveAt. The resulting catalog must be consistent at
// that instant. Nothing is visible to readers until Commit.
func (s *Store) Prepare(effectiveAt time.Time, fn func(*Tx) error) (*Pending, error) {
	base := s.current.Load()
	if n := len(base.versions); n > 0 && !effectiveAt.After(base.versions[n-1].EffectiveAt) {
		return nil, fmt.Errorf("edit effective %s is not after version %s: %w",
			effectiveAt.Format(time.RFC3339), base.versions[n-1].ID, ErrHistoryRewrite)
	}

	tx := &Tx{
		effective: effectiveAt,
		rows:      slices.Clone(base.rows),
		open:      make(map[rowKey]int, len(base.open)),
		baseLen:   len(base.rows),
		dropped:   make(map[int]bool),
	}
	for key, idx := range base.open {
		tx.open[key] = idx
	}
	if err := fn(tx); err != nil {
		return nil, err
	}

	next, diff := tx.finish(base)
	if _, err := snapshotAt(next.rows, effectiveAt); err != nil {
		return nil, err
	}
	return &Pending{base: base, next: next, diff: diff}, nil
}

// Commit publishes a prepared edit. It fails with ErrConcurrentUpdate when
// anything was published after the edit was prepared.
func (s *Store) Commit(p *Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.CompareAndSwap(p.base, p.next) {
		return ErrConcurrentUpdate
	}
	return nil
}

// Apply prepares and commits an edit.
func (s *Store) Apply(effectiveAt time.Time, fn func(*Tx) error) (Diff, error) {
	pending, err := s.Prepare(effectiveAt, fn)
	if err != nil {
		return Diff{}, err
	}
	if err := s.Commit(pending); err != nil {
		return Diff{}, err
	}
	return pending.diff, nil
}

// Tx stages catalog edits inside Prepare.
type Tx struct {
	effective time.Time
	rows      []Row
	open      map[rowKey]int
	baseLen   int
	closed    []int
	dropped   map[int]bool
	// ends holds, per entity, the latest instant covered by a closed base
	// row. Built on first Put.
	ends map[rowKey]time.Time
}

func (tx *Tx) historyEnd() map[rowKey]time.Time {
	if tx.ends != nil {
		return tx.ends
	}
	tx.ends = make(map[rowKey]time.Time)
	for _, row := range tx.rows[:tx.baseLen] {
		key := rowKey{kind: row.Kind, id: row.EntityID}
		last := row.ValidFrom
		if row.ValidTo != nil && row.ValidTo.After(last) {
			last = *row.ValidTo
		}
		if prev, ok := tx.ends[key]; !ok || last.After(prev) {
			tx.ends[key] = last
		}
	}
	return tx.ends
}

// Put makes entity the current definition of its id from the edit instant on.
func (tx *Tx) Put(entity Entity) error {
	if entity == nil || !entity.EntityKind().Valid() || entity.EntityID() == "" {
		return fmt.Errorf("%w: entity requires a kind and an id", ErrInvalidEntity)
	}
	key := rowKey{kind: entity.EntityKind(), id: entity.EntityID()}
	if last, ok := tx.historyEnd()[key]; ok && last.After(tx.effective) {
		return fmt.Errorf("%s %q has history until %s: %w",
			key.kind, key.id, last.Format(time.RFC3339), ErrHistoryRewrite)
	}
	if idx, ok := tx.open[key]; ok {
		if idx >= tx.baseLen {
			tx.rows[idx].Entity = entity
			return nil
		}
		if err := tx.close(idx); err != nil {
			return err
		}
	}

	tx.rows = append(tx.rows, Row{
		Kind:      key.kind,
		EntityID:  key.id,
		ValidFrom: tx.effective,
		Entity:    entity,
	})
	tx.open[key] = len(tx.rows) - 1
	return nil
}

// Retire ends the current definition of an entity at the edit instant.
func (tx *Tx) Retire(kind EntityKind, id string) error {
	key := rowKey{kind: kind, id: id}
	idx, ok := tx.open[key]
	if !ok {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	delete(tx.open, key)
	if idx >= tx.baseLen {
		tx.dropped[idx] = true
		return nil
	}
	return tx.close(idx)
}

// Current returns the open definition of an entity as staged so far.
func (tx *Tx) Current(kind EntityKind, id string) (Entity, bool) {
	idx, ok := tx.open[rowKey{kind: kind, id: id}]
	if !ok {
		return nil, false
	}
	return tx.rows[idx].Entity, true
}

func (tx *Tx) close(idx int) error {
	row := tx.rows[idx]
	if tx.effective.Before(row.ValidFrom) {
		return fmt.Errorf("%s %q changes from %s: %w",
			row.Kind, row.EntityID, row.ValidFrom.Format(time.RFC3339), ErrHistoryRewrite)
	}
	end := tx.effective
	row.ValidTo = &end
	tx.rows[idx] = row
	tx.closed = append(tx.closed, idx)
	return nil
}

func (tx *Tx) finish(base *state) (*state, Diff) {
	diff := Diff{EffectiveAt: tx.effective}
	for _, idx := range tx.closed {
		diff.Closed = append(diff.Closed, tx.rows[idx])
	}

	rows := tx.rows[:tx.baseLen:tx.baseLen]
	for idx := tx.baseLen; idx < len(tx.rows); idx++ {
		if tx.dropped[idx] {
			continue
		}
		rows = append(rows, tx.rows[idx])
		diff.Added = append(diff.Added, tx.rows[idx])
	}

	open := make(map[rowKey]int, len(tx.open))
	for i, row := range rows {
		if row.Open() {
			open[rowKey{kind: row.Kind, id: row.EntityID}] = i
		}
	}
	return &state{rows: rows, open: open, versions: base.versions, snapshots: base.snapshots}, diff
}
