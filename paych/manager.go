package paych

import (
	"context"
	"sync"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/errs"
)

// Manager is the top-level payment-channel API (spec.md §2/§4): it owns
// the durable Store and hands out one Accessor per tracked channel,
// serializing create/voucher/settle/collect operations per channel while
// letting different channels proceed concurrently (spec.md §5).
type Manager struct {
	store     *Store
	provider  chainapi.Provider
	pusher    chainapi.MessagePoolPusher
	keys      chainapi.KeyStore
	listeners *MsgListeners
	watcher   *watcher
	queue     *fundsRequestQueue

	mu        sync.Mutex
	accessors map[string]*Accessor
}

func NewManager(store *Store, provider chainapi.Provider, pusher chainapi.MessagePoolPusher, keys chainapi.KeyStore) *Manager {
	mgr := &Manager{
		store:     store,
		provider:  provider,
		pusher:    pusher,
		keys:      keys,
		listeners: NewMsgListeners(),
		accessors: make(map[string]*Accessor),
	}
	mgr.watcher = newWatcher(mgr)
	mgr.queue = newFundsRequestQueue(mgr)
	return mgr
}

// Listeners exposes the manager's message-completion event bus so
// callers can subscribe without reaching into an individual accessor.
func (m *Manager) Listeners() *MsgListeners { return m.listeners }

func (m *Manager) accessorFor(id string) *Accessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accessors[id]; ok {
		return a
	}
	a := newAccessor(id, m.store, m.provider, m.pusher, m.keys, m.watcher)
	m.accessors[id] = a
	return a
}

// GetPaych implements spec.md §4.7/§4.8: enqueue a top-up request for
// (from, to), coalesced with any concurrent callers of the same pair,
// creating the channel on first use.
func (m *Manager) GetPaych(ctx context.Context, from, to address.Address, amount fbig.Int) (*PaychFundsRes, error) {
	return m.queue.getPaych(ctx, from, to, amount)
}

// Accessor returns the per-channel accessor for an already-tracked
// channel id, or ChannelNotTracked if it has never been seen.
func (m *Manager) Accessor(ctx context.Context, channelID string) (*Accessor, error) {
	if _, err := m.store.ByChannelID(ctx, channelID); err != nil {
		return nil, errs.Wrap(errs.ChannelNotTracked, err, "channel %s", channelID)
	}
	return m.accessorFor(channelID), nil
}

// CreateVoucher signs a new voucher on the given channel/lane.
func (m *Manager) CreateVoucher(ctx context.Context, channelID string, lane uint64, amount fbig.Int) (*SignedVoucher, error) {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return a.CreateVoucher(ctx, lane, amount)
}

// AllocateLane returns a new lane id for channelID.
func (m *Manager) AllocateLane(ctx context.Context, channelID string) (uint64, error) {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return a.AllocateLane(ctx)
}

// CheckVoucherValid runs the full on-chain validation chain for v
// against channelID's tracked state.
func (m *Manager) CheckVoucherValid(ctx context.Context, channelID string, v *SignedVoucher) error {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return err
	}
	_, err = a.CheckVoucherValid(ctx, v)
	return err
}

// AddVoucher records an inbound voucher and reports the delta it
// contributes over what was already tracked for its lane.
func (m *Manager) AddVoucher(ctx context.Context, channelID string, v SignedVoucher, proof []byte, minDelta fbig.Int) (fbig.Int, error) {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return fbig.Zero(), err
	}
	return a.AddVoucher(ctx, v, proof, minDelta)
}

// SubmitVoucher pushes an UpdateChannelState message redeeming v.
func (m *Manager) SubmitVoucher(ctx context.Context, channelID string, v SignedVoucher, secret []byte) (cid.Cid, error) {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return cid.Undef, err
	}
	return a.SubmitVoucher(ctx, v, secret)
}

// Settle pushes a Settle message for channelID.
func (m *Manager) Settle(ctx context.Context, channelID string) (cid.Cid, error) {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return cid.Undef, err
	}
	return a.Settle(ctx)
}

// Collect pushes a Collect message for channelID.
func (m *Manager) Collect(ctx context.Context, channelID string) (cid.Cid, error) {
	a, err := m.Accessor(ctx, channelID)
	if err != nil {
		return cid.Undef, err
	}
	return a.Collect(ctx)
}
