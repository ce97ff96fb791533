// Package broadcast turns staged transactions into confirmed on-chain
// effects: it gates submission on the operating mode, pushes the signed
// bytes to a chain RPC endpoint, waits a bounded time for a receipt and
// settles the queue record accordingly.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/defirelay/agentpay"
	"github.com/defirelay/agentpay/chainrpc"
	"github.com/defirelay/agentpay/txqueue"
)

// Mode selects the broadcast policy.
type Mode string

const (
	// ModeRogue broadcasts immediately, fully autonomously.
	ModeRogue Mode = "rogue"
	// ModePartner requires an out-of-band confirmation before any
	// transaction leaves the queue.
	ModePartner Mode = "partner"
)

// DefaultConfirmationWait bounds how long Broadcast waits for a receipt
// before handing an unconfirmed transaction back to the caller.
const DefaultConfirmationWait = 120 * time.Second

// ChainClient is the chain RPC surface the broadcaster needs.
type ChainClient interface {
	SendRawTransaction(ctx context.Context, signedTxHex string) (string, error)
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*chainrpc.Receipt, error)
}

// Notifier receives the "confirmation required" signal in partner mode,
// carrying the full transaction summary for the user to inspect.
type Notifier interface {
	ConfirmationRequired(tx txqueue.QueuedTransaction)
}

// Result reports what happened to one broadcast attempt. Exactly one of
// AwaitingConfirmation, Confirmed, Reverted or TimedOut is set when the
// returned error is nil.
type Result struct {
	UUID        string
	TxHash      string
	ExplorerURL string

	// AwaitingConfirmation means partner mode withheld the broadcast and
	// notified for out-of-band approval; the record stays Pending.
	AwaitingConfirmation bool
	// Confirmed means a receipt with success status was observed.
	Confirmed bool
	// Reverted means the receipt shows on-chain revert; the record is
	// Failed.
	Reverted bool
	// TimedOut means no receipt arrived within the wait window. The
	// record stays at Broadcast, not Failed: the transaction may still
	// confirm later and the caller should check the explorer.
	TimedOut bool

	Receipt *chainrpc.Receipt
}

// Broadcaster submits queued transactions.
type Broadcaster struct {
	store       *txqueue.Store
	chain       ChainClient
	mode        Mode
	notifier    Notifier
	confirmWait time.Duration
	log         *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMode sets the operating mode; the default is partner.
func WithMode(mode Mode) Option {
	return func(b *Broadcaster) {
		b.mode = mode
	}
}

// WithNotifier sets the partner-mode confirmation sink.
func WithNotifier(n Notifier) Option {
	return func(b *Broadcaster) {
		b.notifier = n
	}
}

// WithConfirmationWait overrides the receipt wait window.
func WithConfirmationWait(d time.Duration) Option {
	return func(b *Broadcaster) {
		b.confirmWait = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.log = log
	}
}

// NewBroadcaster creates a broadcaster over a store and a chain client.
func NewBroadcaster(store *txqueue.Store, chain ChainClient, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		store:       store,
		chain:       chain,
		mode:        ModePartner,
		confirmWait: DefaultConfirmationWait,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast submits a pending transaction, applying the mode gate first.
// In partner mode it emits a confirmation-required notification and
// returns without broadcasting; the external approval path then calls
// BroadcastApproved.
func (b *Broadcaster) Broadcast(ctx context.Context, id string) (*Result, error) {
	tx, ok := b.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown transaction: %s", id)
	}
	if err := checkBroadcastable(tx); err != nil {
		return nil, err
	}

	if b.mode == ModePartner {
		if b.notifier != nil {
			b.notifier.ConfirmationRequired(tx)
		}
		b.log.Info("broadcast withheld pending confirmation", "uuid", id, "network", tx.Network)
		return &Result{UUID: id, AwaitingConfirmation: true}, nil
	}
	return b.submit(ctx, tx, string(ModeRogue))
}

// BroadcastApproved submits a pending transaction after out-of-band
// approval, bypassing the mode gate. The initiator is recorded on the
// queue record.
func (b *Broadcaster) BroadcastApproved(ctx context.Context, id, initiator string) (*Result, error) {
	tx, ok := b.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown transaction: %s", id)
	}
	if err := checkBroadcastable(tx); err != nil {
		return nil, err
	}
	return b.submit(ctx, tx, initiator)
}

// checkBroadcastable rejects records that already left Pending, with a
// message naming where they went.
func checkBroadcastable(tx txqueue.QueuedTransaction) error {
	switch tx.Status {
	case txqueue.StatusPending:
		return nil
	case txqueue.StatusBroadcasting:
		return fmt.Errorf("transaction %s is already being broadcast", tx.UUID)
	case txqueue.StatusBroadcast:
		return fmt.Errorf("transaction %s was already broadcast as %s; check the explorer", tx.UUID, tx.TxHash)
	case txqueue.StatusConfirmed:
		return fmt.Errorf("transaction %s is already confirmed as %s", tx.UUID, tx.TxHash)
	case txqueue.StatusFailed:
		return fmt.Errorf("transaction %s already failed: %s", tx.UUID, tx.Error)
	case txqueue.StatusExpired:
		return fmt.Errorf("transaction %s expired before broadcast", tx.UUID)
	default:
		return fmt.Errorf("transaction %s is in unknown state %q", tx.UUID, tx.Status)
	}
}

// submit runs the broadcast sequence: win the Pending -> Broadcasting
// race, push the raw bytes, record the hash, then wait boundedly for a
// receipt. The record is marked Broadcast before any waiting starts.
func (b *Broadcaster) submit(ctx context.Context, tx txqueue.QueuedTransaction, initiator string) (*Result, error) {
	if err := b.store.MarkBroadcasting(tx.UUID); err != nil {
		// A concurrent caller won the race; this attempt must not retry.
		return nil, err
	}

	txHash, err := b.chain.SendRawTransaction(ctx, tx.SignedTxHex)
	if err != nil {
		reason := fmt.Sprintf("submission failed: %v", err)
		if markErr := b.store.MarkFailed(tx.UUID, reason); markErr != nil {
			b.log.Error("failed to record submission failure", "uuid", tx.UUID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to broadcast transaction %s: %w", tx.UUID, err)
	}

	explorerURL := agentpay.ExplorerTxURL(tx.Network, txHash)
	if err := b.store.MarkBroadcast(tx.UUID, txHash, explorerURL, initiator); err != nil {
		return nil, fmt.Errorf("failed to record broadcast of %s: %w", tx.UUID, err)
	}
	b.log.Info("transaction broadcast", "uuid", tx.UUID, "txHash", txHash, "initiator", initiator)

	result := &Result{UUID: tx.UUID, TxHash: txHash, ExplorerURL: explorerURL}

	receipt, err := b.chain.WaitForReceipt(ctx, txHash, b.confirmWait)
	if err != nil {
		// Infrastructure failure, not proof of wrongdoing: the record
		// stays at Broadcast and the caller can check the explorer.
		b.log.Warn("receipt wait failed", "uuid", tx.UUID, "txHash", txHash, "error", err)
		result.TimedOut = true
		return result, nil
	}
	if receipt == nil {
		result.TimedOut = true
		return result, nil
	}

	result.Receipt = receipt
	if receipt.Success() {
		if err := b.store.MarkConfirmed(tx.UUID); err != nil {
			return nil, fmt.Errorf("failed to record confirmation of %s: %w", tx.UUID, err)
		}
		result.Confirmed = true
		return result, nil
	}

	if err := b.store.MarkFailed(tx.UUID, "reverted on-chain"); err != nil {
		return nil, fmt.Errorf("failed to record revert of %s: %w", tx.UUID, err)
	}
	result.Reverted = true
	return result, nil
}
