package messagepool

import (
	"context"
	"math/big"
	"sort"

	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/types"
)

// MsgChain is a prefix of one sender's pending messages, taken in
// sequence order, with rolling gas aggregates. Chains are the unit the
// packer (merge-and-trim) sorts and selects.
type MsgChain struct {
	Msgs      []types.SignedMessage
	GasLimit  int64
	GasReward fbig.Int
	GasPerf   float64
	EffPerf   float64
	Valid     bool

	// Next links to the following chain of the same sender, lower in
	// gas_perf. A chain may only be included if all of its predecessors
	// (via Next going backwards) are included first; callers walk chains
	// in the order returned by buildChains, which already respects this.
	Next *MsgChain
}

func gasPerf(reward fbig.Int, gasLimit int64) float64 {
	if gasLimit == 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(reward.Int).Float64()
	return f / float64(gasLimit)
}

// chainCtx threads the collaborators buildChains needs without widening
// every call site's signature.
type chainCtx struct {
	ctx      context.Context
	provider chainapi.Provider
}

// buildChains implements spec.md §4.2: sort by sequence, drop messages
// whose on-chain precondition fails (and everything after, to preserve
// sequence-contiguity), then cut the remaining prefix into chains at
// every point where gas_perf would strictly decrease by appending the
// next message. A chain whose gas_perf is not below its predecessor's is
// merged back into that predecessor, so each later chain ranks lower.
func buildChains(cc chainCtx, msgs []types.SignedMessage, baseFee fbig.Int) ([]*MsgChain, error) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Message.Sequence < msgs[j].Message.Sequence
	})

	balance, nextSeq, err := cc.provider.AccountState(cc.ctx, msgs[0].Message.From)
	if err != nil {
		return nil, err
	}

	kept := make([]types.SignedMessage, 0, len(msgs))
	runningBalance := balance
	expectSeq := nextSeq
	for _, sm := range msgs {
		if sm.Message.Sequence != expectSeq {
			break
		}
		required := fbig.Add(sm.Message.Value, fbig.Mul(sm.Message.GasFeeCap, fbig.NewInt(sm.Message.GasLimit)))
		if runningBalance.LessThan(required) {
			break
		}
		kept = append(kept, sm)
		runningBalance = fbig.Sub(runningBalance, required)
		expectSeq++
	}
	if len(kept) == 0 {
		return nil, nil
	}

	var chains []*MsgChain
	var cur *MsgChain
	var curGasLimit int64
	curGasReward := fbig.Zero()

	flush := func() {
		if cur == nil {
			return
		}
		cur.GasLimit = curGasLimit
		cur.GasReward = curGasReward
		cur.GasPerf = gasPerf(curGasReward, curGasLimit)
		cur.Valid = true
		chains = append(chains, cur)
	}

	for _, sm := range kept {
		reward := sm.Message.GasReward(baseFee)
		nextGasLimit := curGasLimit + sm.Message.GasLimit
		nextGasReward := fbig.Add(curGasReward, reward)
		nextPerf := gasPerf(nextGasReward, nextGasLimit)

		if cur != nil && len(cur.Msgs) > 0 && nextPerf < cur.GasPerf {
			// Appending would strictly decrease gas_perf below the
			// running chain's performance: cut here.
			flush()
			cur = &MsgChain{}
			curGasLimit = sm.Message.GasLimit
			curGasReward = reward
		} else {
			if cur == nil {
				cur = &MsgChain{}
			}
			curGasLimit = nextGasLimit
			curGasReward = nextGasReward
		}
		cur.Msgs = append(cur.Msgs, sm)
		cur.GasPerf = gasPerf(curGasReward, curGasLimit)
	}
	flush()

	for merged := true; merged; {
		merged = false
		for i := len(chains) - 1; i > 0; i-- {
			prev, ch := chains[i-1], chains[i]
			if ch.GasPerf >= prev.GasPerf {
				prev.Msgs = append(prev.Msgs, ch.Msgs...)
				prev.GasLimit += ch.GasLimit
				prev.GasReward = fbig.Add(prev.GasReward, ch.GasReward)
				prev.GasPerf = gasPerf(prev.GasReward, prev.GasLimit)
				chains = append(chains[:i], chains[i+1:]...)
				merged = true
			}
		}
	}

	for i := 0; i < len(chains)-1; i++ {
		chains[i].Next = chains[i+1]
	}
	return chains, nil
}
