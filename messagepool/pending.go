package messagepool

import (
	"context"

	"github.com/filecoin-project/go-address"
	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/errs"
	"github.com/filecoin-project/fil-selectpay/types"
)

var log = logging.Logger("messagepool")

// PendingSet maps sender to that sender's pending messages keyed by
// sequence number. The map does not enforce contiguity; buildChains keeps
// only the contiguous run starting at the sender's on-chain sequence and
// drops everything from the first gap on.
type PendingSet map[address.Address]map[uint64]types.SignedMessage

// PendingSnapshot is the reorg-resolved view pending_view hands to the
// chain constructor. It is consumed once and never retained.
type PendingSnapshot struct {
	Pending PendingSet
}

// blockMsgCache avoids re-fetching a block's messages repeatedly during a
// long reorg walk across adjacent requests; grounded on the cache venus's
// gas estimator keeps for repeated chain reads.
var blockMsgCache, _ = lru.New[string, []types.SignedMessage](256)

// pendingView implements spec.md §4.1. If currentTs and targetTs are the
// same tipset, the live pending set is returned directly (no deep copy).
// Otherwise it walks both chains back to their common ancestor, replaying
// messages from the abandoned side back into the snapshot and removing
// messages already committed on the target side.
func pendingView(ctx context.Context, provider chainapi.Provider, live PendingSet, currentTs, targetTs *types.TipSet) (*PendingSnapshot, error) {
	if currentTs.Equals(targetTs) {
		return &PendingSnapshot{Pending: live}, nil
	}

	working := deepCopyPending(live)

	left, right, err := runHeadChange(ctx, provider, currentTs, targetTs)
	if err != nil {
		return nil, errs.Wrap(errs.ChainRead, err, "pending view reorg walk")
	}
	logPendingViewReorg(len(left), len(right))

	for _, ts := range left {
		for _, b := range ts.Blocks() {
			msgs, err := blockMessages(ctx, provider, &b)
			if err != nil {
				return nil, errs.Wrap(errs.ChainRead, err, "loading left-chain block messages")
			}
			for _, sm := range msgs {
				addSender(working, sm.Message.From)
				working[sm.Message.From][sm.Message.Sequence] = sm
			}
		}
	}

	for _, ts := range right {
		for _, b := range ts.Blocks() {
			msgs, err := blockMessages(ctx, provider, &b)
			if err != nil {
				return nil, errs.Wrap(errs.ChainRead, err, "loading right-chain block messages")
			}
			for _, sm := range msgs {
				if bySeq, ok := working[sm.Message.From]; ok {
					delete(bySeq, sm.Message.Sequence)
				}
				if bySeq, ok := live[sm.Message.From]; ok {
					delete(bySeq, sm.Message.Sequence)
				}
			}
		}
	}

	return &PendingSnapshot{Pending: working}, nil
}

func addSender(p PendingSet, addr address.Address) {
	if _, ok := p[addr]; !ok {
		p[addr] = make(map[uint64]types.SignedMessage)
	}
}

func deepCopyPending(p PendingSet) PendingSet {
	out := make(PendingSet, len(p))
	for addr, bySeq := range p {
		cp := make(map[uint64]types.SignedMessage, len(bySeq))
		for seq, sm := range bySeq {
			cp[seq] = sm
		}
		out[addr] = cp
	}
	return out
}

// runHeadChange walks current and target back to their common ancestor,
// always popping whichever side currently has the higher epoch (per
// original_source's run_head_change), collecting the abandoned tipsets on
// each side.
func runHeadChange(ctx context.Context, provider chainapi.Provider, current, target *types.TipSet) (left, right []*types.TipSet, err error) {
	for !current.Equals(target) {
		if current.Height() > target.Height() ||
			(current.Height() == target.Height() && !current.Equals(target)) {
			left = append(left, current)
			if current.Height() <= target.Height() {
				// equal height, distinct tipsets: pop both sides one
				// step to converge instead of looping forever.
				right = append(right, target)
				next, err := provider.LoadTipSet(ctx, current.Parents())
				if err != nil {
					return nil, nil, err
				}
				nextTarget, err := provider.LoadTipSet(ctx, target.Parents())
				if err != nil {
					return nil, nil, err
				}
				current, target = next, nextTarget
				continue
			}
			next, err := provider.LoadTipSet(ctx, current.Parents())
			if err != nil {
				return nil, nil, err
			}
			current = next
			continue
		}
		right = append(right, target)
		next, err := provider.LoadTipSet(ctx, target.Parents())
		if err != nil {
			return nil, nil, err
		}
		target = next
	}
	return left, right, nil
}

func blockMessages(ctx context.Context, provider chainapi.Provider, b *types.BlockHeader) ([]types.SignedMessage, error) {
	key := b.Cid.String()
	if cached, ok := blockMsgCache.Get(key); ok {
		return cached, nil
	}
	bls, secp, err := provider.MessagesForBlock(ctx, b)
	if err != nil {
		return nil, err
	}
	out := make([]types.SignedMessage, 0, len(bls)+len(secp))
	for _, m := range bls {
		out = append(out, types.SignedMessage{Message: m})
	}
	out = append(out, secp...)
	blockMsgCache.Add(key, out)
	return out, nil
}
