// Package kv stores the fingerprint cache in an embedded BadgerDB.
//
// Every save writes a complete generation under gen/<n>/ and then flips the
// "current" key to it in one transaction. Readers follow "current", so a save
// that fails halfway leaves the previous generation in place.
package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

var currentKey = []byte("current")

type meta struct {
	VersionTag string    `json:"version_tag"`
	Dim        int       `json:"dim"`
	Count      int       `json:"count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store implements fingerprint.Store on BadgerDB.
type Store struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// Open opens (or creates) the database in dir.
func Open(dir string, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, log: logger.WithField("component", "kv")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing badger database: %w", err)
	}
	return nil
}

func genPrefix(gen uint64) []byte {
	return fmt.Appendf(nil, "gen/%020d/", gen)
}

func metaKey(gen uint64) []byte {
	return append(genPrefix(gen), "meta"...)
}

func recordPrefix(gen uint64) []byte {
	return append(genPrefix(gen), "rec/"...)
}

func (s *Store) currentGen(txn *badger.Txn) (uint64, bool, error) {
	item, err := txn.Get(currentKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read current generation: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, fmt.Errorf("read current generation: %w", err)
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt current generation key (%d bytes)", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// Load implements fingerprint.Store.
func (s *Store) Load(ctx context.Context) (*fingerprint.Snapshot, error) {
	var snap *fingerprint.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		gen, ok, err := s.currentGen(txn)
		if err != nil {
			return err
		}
		if !ok {
			return fingerprint.ErrStoreEmpty
		}

		item, err := txn.Get(metaKey(gen))
		if err != nil {
			return fmt.Errorf("read generation %d meta: %w", gen, err)
		}
		var m meta
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
			return fmt.Errorf("decode generation %d meta: %w", gen, err)
		}

		records := make([]*fingerprint.ImageRecord, 0, m.Count)
		prefix := recordPrefix(gen)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := &fingerprint.ImageRecord{}
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, rec) }); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			if rec.Embeddings == nil {
				rec.Embeddings = []fingerprint.FaceEmbedding{}
			}
			records = append(records, rec)
		}
		if len(records) != m.Count {
			return fmt.Errorf("generation %d holds %d records, meta says %d", gen, len(records), m.Count)
		}

		snap = fingerprint.NewSnapshot(m.VersionTag, m.Dim, records)
		snap.UpdatedAt = m.UpdatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save implements fingerprint.Store.
func (s *Store) Save(ctx context.Context, snap *fingerprint.Snapshot) error {
	var prev uint64
	var hasPrev bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		prev, hasPrev, err = s.currentGen(txn)
		return err
	})
	if err != nil {
		return err
	}

	next := prev + 1
	// A crashed save may have left a partial generation behind.
	if err := s.db.DropPrefix(genPrefix(next)); err != nil {
		return fmt.Errorf("clear generation %d: %w", next, err)
	}

	if err := s.writeGeneration(ctx, next, snap); err != nil {
		if dropErr := s.db.DropPrefix(genPrefix(next)); dropErr != nil {
			s.log.WithError(dropErr).Warn("failed to drop partial generation")
		}
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, next)
		return txn.Set(currentKey, val)
	})
	if err != nil {
		return fmt.Errorf("switch to generation %d: %w", next, err)
	}

	if hasPrev {
		if err := s.db.DropPrefix(genPrefix(prev)); err != nil {
			s.log.WithError(err).WithField("generation", prev).Warn("failed to drop old generation")
		}
	}
	s.log.WithFields(logrus.Fields{"generation": next, "records": snap.Len()}).Debug("fingerprint cache saved")
	return nil
}

func (s *Store) writeGeneration(ctx context.Context, gen uint64, snap *fingerprint.Snapshot) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := recordPrefix(gen)
	for _, rec := range snap.Records() {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Identity, err)
		}
		key := append(append([]byte{}, prefix...), rec.Identity...)
		if err := wb.Set(key, val); err != nil {
			return fmt.Errorf("write record %s: %w", rec.Identity, err)
		}
	}

	m, err := json.Marshal(meta{
		VersionTag: snap.VersionTag,
		Dim:        snap.Dim,
		Count:      snap.Len(),
		UpdatedAt:  snap.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := wb.Set(metaKey(gen), m); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush generation %d: %w", gen, err)
	}
	return nil
}
