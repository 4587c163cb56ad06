package paych

import (
	"context"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	"golang.org/x/sync/semaphore"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/errs"
	"github.com/filecoin-project/fil-selectpay/types"
)

// maxConcurrentWaits bounds how many WaitForMessage calls the watcher
// runs at once, following the teacher's semaphore-guarded worker-count
// pattern. Each watched message still gets its own goroutine, which
// blocks on the semaphore until a slot is free.
const maxConcurrentWaits = 16

// watcher implements spec.md §4.9: wait out message confidence for
// create/add-funds messages, then promote or revert the channel's
// pending state and resume its funds-request queue.
type watcher struct {
	mgr       *Manager
	provider  chainapi.Provider
	store     *Store
	listeners *MsgListeners
	sem       *semaphore.Weighted
}

func newWatcher(mgr *Manager) *watcher {
	return &watcher{
		mgr:       mgr,
		provider:  mgr.provider,
		store:     mgr.store,
		listeners: mgr.listeners,
		sem:       semaphore.NewWeighted(maxConcurrentWaits),
	}
}

func (w *watcher) watchCreate(channelID string, mcid cid.Cid) {
	go w.waitCreate(channelID, mcid)
}

func (w *watcher) watchAddFunds(channelID string, mcid cid.Cid) {
	go w.waitAddFunds(channelID, mcid)
}

func (w *watcher) waitCreate(channelID string, mcid cid.Cid) {
	ctx := context.Background()
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer w.sem.Release(1)

	ts, receipt, err := w.provider.WaitForMessage(ctx, mcid, types.MessageConfidence)
	if err != nil {
		log.Warnw("wait for create message failed", "channel", channelID, "cid", mcid, "err", err)
		w.revertCreate(ctx, channelID, mcid, err)
		return
	}
	_ = ts

	if receipt.ExitCode != exitcode.Ok {
		w.revertCreate(ctx, channelID, mcid, errs.New(errs.ChainRead, "create message exit %d", receipt.ExitCode))
		return
	}

	addr, err := address.NewFromBytes(receipt.Return)
	if err != nil {
		w.revertCreate(ctx, channelID, mcid, errs.Wrap(errs.Encoding, err, "decode created channel address"))
		return
	}

	err = w.store.MutateChannel(ctx, channelID, func(ci *ChannelInfo) error {
		ci.Channel = &addr
		ci.Amount = ci.PendingAmount
		ci.PendingAmount = fbig.Zero()
		ci.CreateMsg = nil
		return nil
	})
	if err != nil {
		log.Warnw("persisting created channel failed", "channel", channelID, "err", err)
	}
	_ = w.store.SaveMsgResult(ctx, mcid.String(), channelID, "")
	w.listeners.fire(channelID, mcid, nil)
	w.resume(channelID)
}

func (w *watcher) waitAddFunds(channelID string, mcid cid.Cid) {
	ctx := context.Background()
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer w.sem.Release(1)

	_, receipt, err := w.provider.WaitForMessage(ctx, mcid, types.MessageConfidence)
	if err != nil {
		log.Warnw("wait for add-funds message failed", "channel", channelID, "cid", mcid, "err", err)
		w.revertAddFunds(ctx, channelID, mcid, err)
		return
	}
	if receipt.ExitCode != exitcode.Ok {
		w.revertAddFunds(ctx, channelID, mcid, errs.New(errs.ChainRead, "add-funds message exit %d", receipt.ExitCode))
		return
	}

	err = w.store.MutateChannel(ctx, channelID, func(ci *ChannelInfo) error {
		ci.Amount = fbig.Add(ci.Amount, ci.PendingAmount)
		ci.PendingAmount = fbig.Zero()
		ci.AddFundsMsg = nil
		return nil
	})
	if err != nil {
		log.Warnw("persisting add-funds result failed", "channel", channelID, "err", err)
	}
	_ = w.store.SaveMsgResult(ctx, mcid.String(), channelID, "")
	w.listeners.fire(channelID, mcid, nil)
	w.resume(channelID)
}

func (w *watcher) revertCreate(ctx context.Context, channelID string, mcid cid.Cid, cause error) {
	_ = w.store.SaveMsgResult(ctx, mcid.String(), channelID, cause.Error())
	if err := w.store.RemoveChannel(ctx, channelID); err != nil {
		log.Warnw("removing failed-create channel", "channel", channelID, "err", err)
	}
	w.listeners.fire(channelID, mcid, cause)
	w.resume(channelID)
}

func (w *watcher) revertAddFunds(ctx context.Context, channelID string, mcid cid.Cid, cause error) {
	_ = w.store.SaveMsgResult(ctx, mcid.String(), channelID, cause.Error())
	err := w.store.MutateChannel(ctx, channelID, func(ci *ChannelInfo) error {
		ci.PendingAmount = fbig.Zero()
		ci.AddFundsMsg = nil
		return nil
	})
	if err != nil {
		log.Warnw("reverting add-funds channel", "channel", channelID, "err", err)
	}
	w.listeners.fire(channelID, mcid, cause)
	w.resume(channelID)
}

// resume re-enters the manager's funds-request queue: a channel
// create/add-funds completing may unblock requests that were paused
// behind it (spec.md §4.8: "at most one create/add-funds in flight per
// channel").
func (w *watcher) resume(channelID string) {
	go w.mgr.queue.processQueue(context.Background())
}
