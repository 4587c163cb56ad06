package paych

import (
	"context"
	"sync"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fil-selectpay/errs"
	"github.com/filecoin-project/fil-selectpay/types"
)

// PaychFundsRes is published to every subscriber of a merged funds
// request once it completes.
type PaychFundsRes struct {
	Channel *address.Address
	MsgCid  cid.Cid
	Err     error
}

// fundsRequest is one caller's top-up demand, per spec.md §3.
type fundsRequest struct {
	from, to address.Address
	amount   fbig.Int
	active   bool
	done     chan *PaychFundsRes
}

func (r *fundsRequest) cancel() { r.active = false }

// fundsRequestQueue implements spec.md §4.8: coalesce concurrent
// get_paych calls sharing (from, to) into one merged request, processed
// one task at a time per manager. In-place compaction of cancelled
// requests follows the teacher's preconf/fifo_tx_set.go Forward() idiom
// (i := 0; keep; i++).
type fundsRequestQueue struct {
	mu      sync.Mutex
	mgr     *Manager
	reqs    []*fundsRequest
	running bool
}

func newFundsRequestQueue(mgr *Manager) *fundsRequestQueue {
	return &fundsRequestQueue{mgr: mgr}
}

// getPaych enqueues a request and blocks until it (or the merged request
// it was folded into) completes.
func (q *fundsRequestQueue) getPaych(ctx context.Context, from, to address.Address, amount fbig.Int) (*PaychFundsRes, error) {
	req := &fundsRequest{from: from, to: to, amount: amount, active: true, done: make(chan *PaychFundsRes, 1)}
	q.enqueue(req)
	go q.processQueue(context.Background())

	select {
	case res := <-req.done:
		if res.Err != nil {
			return res, res.Err
		}
		return res, nil
	case <-ctx.Done():
		q.mu.Lock()
		req.cancel()
		q.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (q *fundsRequestQueue) enqueue(req *fundsRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
}

// filterQueue drops inactive (cancelled) requests in place.
func (q *fundsRequestQueue) filterQueue() {
	i := 0
	for _, r := range q.reqs {
		if r.active {
			q.reqs[i] = r
			i++
		}
	}
	q.reqs = q.reqs[:i]
}

// processQueue implements spec.md §4.8's tick algorithm. At most one
// instance progresses per manager at a time (the running flag), per
// spec.md §5.
func (q *fundsRequestQueue) processQueue(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()
	q.mu.Unlock()

	for {
		q.mu.Lock()
		q.filterQueue()
		if len(q.reqs) == 0 {
			q.mu.Unlock()
			return
		}

		from, to := q.reqs[0].from, q.reqs[0].to
		sum := fbig.Zero()
		var merged []*fundsRequest
		for _, r := range q.reqs {
			if r.from == from && r.to == to {
				sum = fbig.Add(sum, r.amount)
				merged = append(merged, r)
			}
		}
		q.mu.Unlock()

		if sum.IsZero() {
			q.mu.Lock()
			for _, r := range merged {
				r.active = false
			}
			q.mu.Unlock()
			continue
		}

		res := q.processTask(ctx, from, to, sum)

		q.mu.Lock()
		if res == nil {
			// Paused: waiting on a pending create/add-funds message; the
			// chain watcher re-invokes processQueue on confidence.
			q.mu.Unlock()
			return
		}
		for _, r := range merged {
			select {
			case r.done <- res:
			default:
			}
			r.active = false
		}
		q.mu.Unlock()
	}
}

// messageFor builds the create-channel or add-funds message for (from,
// to, amount). create selects method 1, standing for the paych actor
// constructor invoked through Init.Exec; a non-create top-up is a plain
// value transfer (method 0) to an already-created channel.
func messageFor(from, to address.Address, amount fbig.Int, create bool) *types.Message {
	method := abi.MethodNum(0)
	if create {
		method = 1
	}
	return &types.Message{From: from, To: to, Value: amount, Method: method}
}

// processTask implements spec.md §4.8 step 4.
func (q *fundsRequestQueue) processTask(ctx context.Context, from, to address.Address, sum fbig.Int) *PaychFundsRes {
	mgr := q.mgr
	info, err := mgr.store.OutboundActiveByFromTo(ctx, from, to)
	if err != nil {
		info, err = mgr.store.CreateChannel(ctx, from, to, sum)
		if err != nil {
			return &PaychFundsRes{Err: err}
		}
		log.Infow("creating new payment channel", "from", from, "to", to, "amount", sum)
		msg := messageFor(from, to, sum, true)
		sm, perr := mgr.pusher.PushUnsigned(ctx, msg)
		if perr != nil {
			return &PaychFundsRes{Err: errs.Wrap(errs.ChainRead, perr, "push create paych")}
		}
		if err := mgr.store.SaveNewMessage(ctx, info.ID, sm.CID.String()); err != nil {
			return &PaychFundsRes{Err: err}
		}
		if err := mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
			c := sm.CID
			ci.CreateMsg = &c
			return nil
		}); err != nil {
			return &PaychFundsRes{Err: err}
		}
		mgr.watcher.watchCreate(info.ID, sm.CID)
		return &PaychFundsRes{MsgCid: sm.CID}
	}

	if info.CreateMsg != nil || info.AddFundsMsg != nil {
		return nil
	}

	msg := messageFor(info.Control, *info.Channel, sum, false)
	sm, err := mgr.pusher.PushUnsigned(ctx, msg)
	if err != nil {
		return &PaychFundsRes{Err: errs.Wrap(errs.ChainRead, err, "push add funds")}
	}
	if err := mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		c := sm.CID
		ci.AddFundsMsg = &c
		ci.PendingAmount = fbig.Add(ci.PendingAmount, sum)
		return nil
	}); err != nil {
		return &PaychFundsRes{Err: err}
	}
	mgr.watcher.watchAddFunds(info.ID, sm.CID)
	ch := *info.Channel
	return &PaychFundsRes{Channel: &ch, MsgCid: sm.CID}
}
