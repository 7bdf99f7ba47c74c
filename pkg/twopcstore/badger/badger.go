// Package badger is a durable pkg/twopc.Context store backed by
// github.com/dgraph-io/badger/v2, grounded on the teacher's bolt backend
// (New(path) / Cleanup() shape) but keyed and encoded for this domain:
// one Context per (coordinator, thisProcess) pair, CBOR-encoded via
// pkg/twopccodec.
package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/oasisprotocol/twopc/internal/logging"
	"github.com/oasisprotocol/twopc/pkg/twopc"
	"github.com/oasisprotocol/twopc/pkg/twopccodec"
)

var logger = logging.GetLogger("twopcstore/badger")

// Store persists the latest Context[P, T] for a process, keyed by
// (coordinator, thisProcess). Put is synchronously fsync'd before
// returning, satisfying "the embedder persists the Update context before
// acting on subsequent SendMessage actions": a caller that returns from
// Put may safely proceed to network actions knowing the Update that
// preceded them already survived a crash.
type Store[P comparable, T any] struct {
	db *badger.DB
}

// New opens (creating if necessary) a Store at path.
func New[P comparable, T any](path string) (*Store[P, T], error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is noisy at Info; we log at our call sites instead.

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("twopcstore/badger: open: %w", err)
	}

	return &Store[P, T]{db: db}, nil
}

// Cleanup closes the underlying database.
func (s *Store[P, T]) Cleanup() {
	if err := s.db.Close(); err != nil {
		logger.Error("failed to close database", "err", err)
	}
}

// Put durably persists ctx, fsync'd before returning.
func (s *Store[P, T]) Put(ctx twopc.Context[P, T]) error {
	data, err := twopccodec.MarshalContext(ctx)
	if err != nil {
		return fmt.Errorf("twopcstore/badger: marshal context: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(contextKey(ctx.Coordinator, ctx.ThisProcess), data)
	})
	if err != nil {
		return fmt.Errorf("twopcstore/badger: put: %w", err)
	}

	logger.Debug("persisted context",
		"coordinator", ctx.Coordinator,
		"this_process", ctx.ThisProcess,
		"epoch", ctx.Epoch,
	)
	return nil
}

// ErrNotFound is returned by Get when no Context has been persisted for
// the given (coordinator, thisProcess) pair.
var ErrNotFound = fmt.Errorf("twopcstore/badger: no such context")

// Get returns the last Context persisted for (coordinator, thisProcess).
func (s *Store[P, T]) Get(coordinator, thisProcess P) (twopc.Context[P, T], error) {
	var ctx twopc.Context[P, T]

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contextKey(coordinator, thisProcess))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			ctx, err = twopccodec.UnmarshalContext[P, T](data)
			return err
		})
	})
	if err != nil {
		return twopc.Context[P, T]{}, err
	}
	return ctx, nil
}

func contextKey[P comparable](coordinator, thisProcess P) []byte {
	return []byte(fmt.Sprintf("twopc/context/%v/%v", coordinator, thisProcess))
}
