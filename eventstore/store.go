// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package eventstore is the append-only, deduplicating event log shared
// between the packet handler (writer) and the relay server (reader).
// Events are keyed by id and retention follows the kind class:
// replaceable kinds keep only the newest event per (pubkey, kind),
// parameterised replaceable kinds per (pubkey, kind, d tag), ephemeral
// kinds are never persisted.
package eventstore

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

var (
	eventsBucket      = []byte("events")
	replaceableBucket = []byte("replaceable-index")
)

// Err is the error type for event store failures.
var Err er.ErrorType = er.NewErrorType("eventstore.Err")

var (
	// ErrNoID is returned when storing an event without an id.
	ErrNoID = Err.CodeWithDetail("ErrNoID", "event has no id")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = Err.CodeWithDetail("ErrCorrupt", "corrupt event record")
)

// Store is a bbolt backed event log.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the event database at dir/events.db.
func Open(dir string) (*Store, er.R) {
	if errr := os.MkdirAll(dir, 0o700); errr != nil {
		return nil, er.E(errr)
	}
	db, errr := bbolt.Open(filepath.Join(dir, "events.db"), 0o600, &bbolt.Options{
		Timeout: time.Second * 5,
	})
	if errr != nil {
		return nil, er.E(errr)
	}
	errr = db.Update(func(tx *bbolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(eventsBucket); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(replaceableBucket)
		return e
	})
	if errr != nil {
		db.Close()
		return nil, er.E(errr)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() er.R {
	return er.E(s.db.Close())
}

// replaceableKey builds the index key for replaceable retention.
func replaceableKey(ev *wire.Event) []byte {
	var buf bytes.Buffer
	buf.WriteString(ev.Pubkey)
	buf.WriteByte('|')
	buf.WriteString(itoa(ev.Kind))
	if wire.ClassOfKind(ev.Kind) == wire.KindParamReplaceable {
		buf.WriteByte('|')
		buf.WriteString(ev.TagValue("d"))
	}
	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Put appends an event.  Storing the same id twice is a no-op.
// Ephemeral events are accepted but never persisted.
func (s *Store) Put(ev *wire.Event) er.R {
	if ev.ID == "" {
		return ErrNoID.Default()
	}
	class := wire.ClassOfKind(ev.Kind)
	if class == wire.KindEphemeral {
		log.Tracef("Not persisting ephemeral event %s kind %d", ev.ID, ev.Kind)
		return nil
	}
	raw, err := ev.Marshal()
	if err != nil {
		return err
	}
	// Decode failures surface through err rather than the transaction
	// error so callers can still match ErrCorrupt.
	var corrupt er.R
	errr := s.db.Update(func(tx *bbolt.Tx) error {
		events := tx.Bucket(eventsBucket)
		if events.Get([]byte(ev.ID)) != nil {
			return nil
		}
		if class == wire.KindReplaceable || class == wire.KindParamReplaceable {
			index := tx.Bucket(replaceableBucket)
			key := replaceableKey(ev)
			if prevID := index.Get(key); prevID != nil {
				prevRaw := events.Get(prevID)
				if prevRaw != nil {
					var prev wire.Event
					if e := json.Unmarshal(prevRaw, &prev); e != nil {
						corrupt = ErrCorrupt.New(string(prevID), nil)
						return er.Wrapped(corrupt)
					}
					if prev.CreatedAt > ev.CreatedAt {
						// Older than what we already hold.
						return nil
					}
					if e := events.Delete(prevID); e != nil {
						return e
					}
				}
			}
			if e := index.Put(key, []byte(ev.ID)); e != nil {
				return e
			}
		}
		return events.Put([]byte(ev.ID), raw)
	})
	if corrupt != nil {
		return corrupt
	}
	return er.E(errr)
}

// Exists reports whether an event with the given id is stored.
func (s *Store) Exists(id string) (bool, er.R) {
	var found bool
	errr := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(eventsBucket).Get([]byte(id)) != nil
		return nil
	})
	return found, er.E(errr)
}

// Filter selects events for Query.  Zero fields match everything.
type Filter struct {
	Kinds   []int
	Authors []string
	Since   int64
	Limit   int
}

func (f *Filter) matches(ev *wire.Event) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Authors) > 0 {
		ok := false
		for _, a := range f.Authors {
			if ev.Pubkey == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	return true
}

// Query returns stored events matching the filter in no particular
// order, up to Limit when it is positive.
func (s *Store) Query(f *Filter) ([]*wire.Event, er.R) {
	var out []*wire.Event
	var corrupt er.R
	errr := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev wire.Event
			if e := json.Unmarshal(v, &ev); e != nil {
				corrupt = ErrCorrupt.New(string(k), nil)
				return er.Wrapped(corrupt)
			}
			if f == nil || f.matches(&ev) {
				evCopy := ev
				out = append(out, &evCopy)
				if f != nil && f.Limit > 0 && len(out) >= f.Limit {
					return nil
				}
			}
		}
		return nil
	})
	if corrupt != nil {
		return nil, corrupt
	}
	if errr != nil {
		return nil, er.E(errr)
	}
	return out, nil
}
