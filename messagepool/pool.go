package messagepool

import (
	"context"
	"sync"

	"github.com/filecoin-project/go-address"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/types"
)

// MessagePool is the minimal live pending-set holder selection reads
// from. Populating it from gossip/local submission is outside this
// module's scope (spec.md §1); it exists so SelectMessages has a concrete
// thing to operate on in both production wiring and tests.
type MessagePool struct {
	mu       sync.RWMutex
	pending  PendingSet
	cfg      *Config
	provider chainapi.Provider
}

func New(provider chainapi.Provider, cfg *Config) *MessagePool {
	if cfg == nil {
		c := DefaultConfig
		cfg = &c
	}
	return &MessagePool{
		pending:  make(PendingSet),
		cfg:      cfg,
		provider: provider,
	}
}

// Add inserts sm into the live pending set. Callers are responsible for
// having already verified the message's signature.
func (mp *MessagePool) Add(sm types.SignedMessage) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	addSender(mp.pending, sm.Message.From)
	mp.pending[sm.Message.From][sm.Message.Sequence] = sm
}

// Remove drops a single (sender, sequence) entry, e.g. once its message
// lands on chain.
func (mp *MessagePool) Remove(addr address.Address, seq uint64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if bySeq, ok := mp.pending[addr]; ok {
		delete(bySeq, seq)
	}
}

// PendingFor returns a copy of one sender's pending messages.
func (mp *MessagePool) PendingFor(addr address.Address) []types.SignedMessage {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	bySeq, ok := mp.pending[addr]
	if !ok {
		return nil
	}
	out := make([]types.SignedMessage, 0, len(bySeq))
	for _, sm := range bySeq {
		out = append(out, sm)
	}
	return out
}

// SelectMessages acquires a read snapshot of the pool and delegates to
// the package-level selection entry point (spec.md §5: selection never
// mutates the pool, so a read lock for the duration of the snapshot copy
// suffices).
func (mp *MessagePool) SelectMessages(ctx context.Context, currentTs, targetTs *types.TipSet, tq float64) ([]types.SignedMessage, error) {
	mp.mu.RLock()
	live := deepCopyPending(mp.pending)
	cfg := mp.cfg
	mp.mu.RUnlock()
	return SelectMessages(ctx, mp.provider, live, currentTs, targetTs, tq, cfg)
}
