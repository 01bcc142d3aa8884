package store

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/divest/share-engine/internal/model"
)

const (
	defaultWALDir        = "./wal/ledger"
	walSegmentThreshold  = 1000
	walMaxSegments       = 1000
	defaultSnapshotEvery = 500

	keyChangeSet = "changeset"
	keySnapshot  = "snapshot"
)

// snapshot is the full working set, written periodically so replay never
// depends on segments the WAL has already rotated out.
type snapshot struct {
	Assets   []model.Asset              `json:"assets"`
	Accounts []model.Account            `json:"accounts"`
	Listings []model.Listing            `json:"listings"`
	Marks    map[string]decimal.Decimal `json:"marks"`
}

// WALStore keeps the working set in memory and journals every committed
// change set to a write-ahead log before applying it. On open the log is
// replayed from the latest snapshot.
type WALStore struct {
	*MemoryStore
	wal           *gowal.Wal
	snapshotEvery uint64
	commits       atomic.Uint64
}

// WALOption configures a WALStore.
type WALOption func(*WALStore)

// WithSnapshotEvery sets how many commits pass between full snapshots.
func WithSnapshotEvery(n uint64) WALOption {
	return func(s *WALStore) {
		if n > 0 {
			s.snapshotEvery = n
		}
	}
}

// NewWALStore opens (or creates) a WAL under dir and replays it.
func NewWALStore(dir string, opts ...WALOption) (*WALStore, error) {
	if dir == "" {
		dir = defaultWALDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WALStore{
		MemoryStore:   NewMemoryStore(),
		wal:           wal,
		snapshotEvery: defaultSnapshotEvery,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.replay(); err != nil {
		wal.Close()
		return nil, err
	}
	s.MemoryStore.journal = s.writeChangeSet
	return s, nil
}

// Update commits through the journal and snapshots every snapshotEvery commits.
func (s *WALStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	before := s.commits.Load()
	if err := s.MemoryStore.Update(ctx, fn); err != nil {
		return err
	}
	if after := s.commits.Load(); after != before && after%s.snapshotEvery == 0 {
		// The change set is already durable; a failed snapshot is retried
		// at the next interval.
		_ = s.Snapshot()
	}
	return nil
}

// Snapshot writes the full working set to the log.
func (s *WALStore) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{Marks: s.marks}
	for _, id := range s.assetOrder {
		snap.Assets = append(snap.Assets, *s.assets[id])
	}
	for _, a := range s.accounts {
		snap.Accounts = append(snap.Accounts, *a)
	}
	for _, id := range s.listingOrder {
		snap.Listings = append(snap.Listings, *s.listings[id])
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal ledger snapshot")
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, keySnapshot, payload); err != nil {
		return errors.Wrap(err, "write ledger snapshot")
	}
	return nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	return s.wal.Close()
}

// writeChangeSet is the MemoryStore journal hook; it runs under s.mu.
func (s *WALStore) writeChangeSet(cs *ChangeSet) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return errors.Wrap(err, "marshal change set")
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, keyChangeSet, payload); err != nil {
		return errors.Wrap(err, "write change set")
	}
	s.commits.Add(1)
	return nil
}

func (s *WALStore) replay() error {
	if s.wal.CurrentIndex() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for m := range s.wal.Iterator() {
		switch m.Key {
		case keySnapshot:
			var snap snapshot
			if err := json.Unmarshal(m.Value, &snap); err != nil {
				return errors.Wrap(err, "decode ledger snapshot")
			}
			if err := s.restore(snap); err != nil {
				return err
			}
		case keyChangeSet:
			var cs ChangeSet
			if err := json.Unmarshal(m.Value, &cs); err != nil {
				return errors.Wrap(err, "decode change set")
			}
			if err := validateChangeSet(&cs); err != nil {
				return errors.Wrap(err, "replay change set")
			}
			s.apply(&cs)
		}
	}
	return nil
}

// restore replaces the working set; must be called with s.mu held.
func (s *WALStore) restore(snap snapshot) error {
	fresh := NewMemoryStore()
	for i := range snap.Assets {
		a := snap.Assets[i]
		if err := a.Validate(); err != nil {
			return errors.Wrap(err, "restore snapshot")
		}
		fresh.assets[a.ID] = &a
		fresh.assetOrder = append(fresh.assetOrder, a.ID)
	}
	for i := range snap.Accounts {
		a := snap.Accounts[i]
		if err := a.Validate(); err != nil {
			return errors.Wrap(err, "restore snapshot")
		}
		fresh.accounts[a.ID] = &a
	}
	for i := range snap.Listings {
		l := snap.Listings[i]
		if err := l.Validate(); err != nil {
			return errors.Wrap(err, "restore snapshot")
		}
		fresh.listings[l.ID] = &l
		fresh.listingOrder = append(fresh.listingOrder, l.ID)
	}
	for k, v := range snap.Marks {
		fresh.marks[k] = v
	}

	s.assets, s.assetOrder = fresh.assets, fresh.assetOrder
	s.accounts = fresh.accounts
	s.listings, s.listingOrder = fresh.listings, fresh.listingOrder
	s.marks = fresh.marks
	return nil
}

func validateChangeSet(cs *ChangeSet) error {
	for _, a := range cs.Assets {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for i := range cs.Accounts {
		if err := cs.Accounts[i].Validate(); err != nil {
			return err
		}
	}
	for _, e := range cs.Events {
		if err := e.Event.Validate(); err != nil {
			return err
		}
	}
	for _, c := range cs.Cash {
		if err := c.Entry.Validate(); err != nil {
			return err
		}
	}
	for i := range cs.Listings {
		if err := cs.Listings[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
