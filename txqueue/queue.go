// Package txqueue holds the lifecycle records of staged on-chain
// transactions. Records move through an explicit state machine and every
// mutation goes through a checked transition, so concurrent callers can
// never leave a record half-updated.
package txqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued transaction.
type Status string

const (
	StatusPending      Status = "pending"
	StatusBroadcasting Status = "broadcasting"
	StatusBroadcast    Status = "broadcast"
	StatusConfirmed    Status = "confirmed"
	StatusFailed       Status = "failed"
	StatusExpired      Status = "expired"
)

// Terminal reports whether no further transition can mutate a record in
// this state.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

// QueuedTransaction is one staged transaction. Fields other than the
// status-block (Status, TxHash, ExplorerURL, Initiator, Error,
// BroadcastAt) are immutable after Add.
type QueuedTransaction struct {
	UUID                 string
	Network              string
	From                 string
	To                   string
	Value                string
	Data                 string
	Nonce                uint64
	GasLimit             uint64
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	SignedTxHex          string
	Channel              string

	Status      Status
	TxHash      string
	ExplorerURL string
	Initiator   string
	Error       string
	CreatedAt   time.Time
	BroadcastAt time.Time
}

// Store is a uuid-keyed, mutex-guarded collection of queued transactions.
// Every transition is a single read-modify-write under the lock; network
// calls always happen outside it.
type Store struct {
	mu  sync.Mutex
	txs map[string]*QueuedTransaction
	now func() time.Time
}

// NewStore creates an empty transaction store.
func NewStore() *Store {
	return &Store{
		txs: make(map[string]*QueuedTransaction),
		now: time.Now,
	}
}

// Add stages a transaction and returns its new uuid. The record starts
// in StatusPending; a caller-set UUID, Status or timestamps are ignored.
func (s *Store) Add(tx QueuedTransaction) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx.UUID = uuid.NewString()
	tx.Status = StatusPending
	tx.CreatedAt = s.now()
	tx.BroadcastAt = time.Time{}
	tx.TxHash = ""
	tx.Error = ""

	s.txs[tx.UUID] = &tx
	return tx.UUID
}

// Get returns a copy of a record. Mutating the copy has no effect on the
// stored record.
func (s *Store) Get(id string) (QueuedTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return QueuedTransaction{}, false
	}
	return *tx, true
}

// MarkBroadcasting moves Pending -> Broadcasting. Exactly one of several
// concurrent callers wins; the others get an error and must not retry.
func (s *Store) MarkBroadcasting(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("unknown transaction: %s", id)
	}
	if tx.Status != StatusPending {
		return fmt.Errorf("transaction %s is %s, not pending", id, tx.Status)
	}
	tx.Status = StatusBroadcasting
	return nil
}

// MarkBroadcast moves Broadcasting -> Broadcast and records the assigned
// transaction hash. This must complete before the broadcasting call
// returns control to its caller, so a dropped task never leaves a
// transaction broadcast-but-unrecorded.
func (s *Store) MarkBroadcast(id, txHash, explorerURL, initiator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("unknown transaction: %s", id)
	}
	if tx.Status != StatusBroadcasting {
		return fmt.Errorf("transaction %s is %s, not broadcasting", id, tx.Status)
	}
	tx.Status = StatusBroadcast
	tx.TxHash = txHash
	tx.ExplorerURL = explorerURL
	tx.Initiator = initiator
	tx.BroadcastAt = s.now()
	return nil
}

// MarkConfirmed moves Broadcast -> Confirmed. Callers invoke it only
// after observing a receipt with success status.
func (s *Store) MarkConfirmed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("unknown transaction: %s", id)
	}
	if tx.Status != StatusBroadcast {
		return fmt.Errorf("transaction %s is %s, not broadcast", id, tx.Status)
	}
	tx.Status = StatusConfirmed
	return nil
}

// MarkFailed moves any non-terminal state -> Failed with a reason.
func (s *Store) MarkFailed(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("unknown transaction: %s", id)
	}
	if tx.Status.Terminal() {
		return fmt.Errorf("transaction %s is already %s", id, tx.Status)
	}
	tx.Status = StatusFailed
	tx.Error = reason
	return nil
}

// SweepExpired moves Pending records older than maxAge to Expired and
// returns their uuids.
func (s *Store) SweepExpired(maxAge time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	var expired []string
	for id, tx := range s.txs {
		if tx.Status == StatusPending && tx.CreatedAt.Before(cutoff) {
			tx.Status = StatusExpired
			expired = append(expired, id)
		}
	}
	return expired
}
