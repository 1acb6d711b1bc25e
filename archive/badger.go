// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/absmach/cosim/core"
)

var _ Store = (*Badger)(nil)

// Badger is a Store backed by BadgerDB.
//
// Key format: dump/{seq} with seq a big-endian uint64, so iteration
// order is arrival order.
type Badger struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    uint64
	closed bool
}

// archivedMessage is the on-disk form of an ActionMessage.
type archivedMessage struct {
	Action  int32     `json:"action"`
	Source  int32     `json:"source"`
	Dest    int32     `json:"dest"`
	Flags   uint16    `json:"flags"`
	Name    string    `json:"name,omitempty"`
	Payload []byte    `json:"payload,omitempty"`
	Time    core.Time `json:"time"`
}

// NewBadger opens (or creates) an on-disk archive in dir.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive db: %w", err)
	}
	return &Badger{db: db}, nil
}

// Append adds one command to the archive.
func (s *Badger) Append(m core.ActionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(archivedMessage{
		Action:  int32(m.Action),
		Source:  int32(m.Source),
		Dest:    int32(m.Dest),
		Flags:   uint16(m.Flags),
		Name:    m.Name,
		Payload: m.Payload,
		Time:    m.Time,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	key := makeKey(s.seq)
	s.seq++

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Replay calls fn for every archived command in order.
func (s *Badger) Replay(fn func(m core.ActionMessage) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("dump/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var am archivedMessage
				if err := json.Unmarshal(val, &am); err != nil {
					return err
				}
				return fn(core.ActionMessage{
					Action:  core.Action(am.Action),
					Source:  core.GlobalID(am.Source),
					Dest:    core.GlobalID(am.Dest),
					Flags:   core.Flags(am.Flags),
					Name:    am.Name,
					Payload: am.Payload,
					Time:    am.Time,
				})
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Badger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func makeKey(seq uint64) []byte {
	key := make([]byte, 5+8)
	copy(key, "dump/")
	binary.BigEndian.PutUint64(key[5:], seq)
	return key
}
