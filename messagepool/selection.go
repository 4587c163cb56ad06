package messagepool

import (
	"context"
	"sort"
	"time"

	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/types"
)

// SelectMessages implements spec.md §4.5: select_messages(target_ts, tq).
// currentTs is the chain head the live pending set is relative to;
// targetTs is the parent tipset the caller intends to build on.
func SelectMessages(ctx context.Context, provider chainapi.Provider, live PendingSet, currentTs, targetTs *types.TipSet, tq float64, cfg *Config) ([]types.SignedMessage, error) {
	start := time.Now()
	snap, err := pendingView(ctx, provider, live, currentTs, targetTs)
	if err != nil {
		return nil, err
	}

	baseFee, err := provider.ChainComputeBaseFee(ctx, targetTs)
	if err != nil {
		return nil, err
	}

	priMsgs, remGas, err := selectPriority(ctx, provider, snap.Pending, baseFee, cfg)
	if err != nil {
		return nil, err
	}

	if remGas < cfg.MinGas {
		return truncate(priMsgs, types.MaxBlockMsgs), nil
	}

	var rest []*MsgChain
	for _, bySeq := range snap.Pending {
		if len(bySeq) == 0 {
			continue
		}
		msgs := make([]types.SignedMessage, 0, len(bySeq))
		for _, sm := range bySeq {
			msgs = append(msgs, sm)
		}
		chains, err := buildChains(chainCtx{ctx: ctx, provider: provider}, msgs, baseFee)
		if err != nil {
			return nil, err
		}
		rest = append(rest, chains...)
	}

	var restSelected []types.SignedMessage
	if tq > types.TicketQualityGreedyCutoff {
		restSelected, _ = mergeAndTrim(rest, baseFee, remGas, cfg.MinGas)
	} else {
		restSelected = selectOptimal(rest, baseFee, remGas, cfg.MinGas, tq)
	}

	capHint := cfg.SizeLimitLow
	if capHint < 0 {
		capHint = 0
	}
	out := make([]types.SignedMessage, 0, capHint)
	out = append(out, priMsgs...)
	out = append(out, restSelected...)
	out = truncate(out, types.MaxBlockMsgs)
	logSelectionResult(len(rest), len(out), remGas, start)
	return out, nil
}

// selectOptimal implements spec.md §4.5's optimal path: partition chains
// into up to MaxBlocks virtual blocks, re-weight by the effective
// performance of the block position they landed in, re-sort, and repack.
func selectOptimal(chains []*MsgChain, baseFee fbig.Int, gasLimit, minGas int64, tq float64) []types.SignedMessage {
	if len(chains) == 0 {
		return nil
	}
	sortChains(chains)

	// Each virtual block is sized against the full protocol BlockGasLimit,
	// not the residual gasLimit left after priority selection: per
	// selection.rs, a miner partitioning chains this way accounts for what
	// other miners are doing with their own full blocks, not just the
	// gas this node's priority senders happened to consume. The residual
	// gasLimit is only applied once, in the final mergeAndTrim repack below.
	partitions := make([][]*MsgChain, 0, types.MaxBlocks)
	cur := make([]*MsgChain, 0)
	curGas := int64(0)
	for _, ch := range chains {
		if ch.GasPerf < 0 {
			break
		}
		if types.BlockGasLimit-curGas < minGas && len(cur) > 0 {
			partitions = append(partitions, cur)
			cur = nil
			curGas = 0
			if len(partitions) == types.MaxBlocks {
				break
			}
		}
		cur = append(cur, ch)
		curGas += ch.GasLimit
	}
	if len(cur) > 0 && len(partitions) < types.MaxBlocks {
		partitions = append(partitions, cur)
	}

	probs := blockProbabilities(tq)
	placed := make(map[*MsgChain]bool, len(chains))
	for i, part := range partitions {
		p := 0.0
		if i < len(probs) {
			p = probs[i]
		}
		for _, ch := range part {
			ch.EffPerf = ch.GasPerf * p
			placed[ch] = true
		}
	}
	for _, ch := range chains {
		if !placed[ch] {
			ch.EffPerf = 0
		}
	}

	sort.SliceStable(chains, func(i, j int) bool {
		a, b := chains[i], chains[j]
		if a.EffPerf != b.EffPerf {
			return a.EffPerf > b.EffPerf
		}
		return chainLess(a, b)
	})

	selected, _ := mergeAndTrim(chains, baseFee, gasLimit, minGas)
	return selected
}

// blockProbabilities returns a length-MaxBlocks vector where entry i is
// the probability a miner with ticket quality tq wins the (i+1)-th block
// inclusion position. Modeled as a geometric decay anchored at tq, which
// reproduces the qualitative shape described in spec.md §4.5 (the first
// position dominates as tq grows, and probability mass spreads across
// positions as tq shrinks) without requiring the exact protocol
// polynomial, which original_source leaves decimal-approximated.
func blockProbabilities(tq float64) []float64 {
	out := make([]float64, types.MaxBlocks)
	remaining := 1.0
	for i := 0; i < types.MaxBlocks; i++ {
		out[i] = remaining * tq
		remaining -= out[i]
		if remaining < 0 {
			remaining = 0
		}
	}
	return out
}

func truncate(msgs []types.SignedMessage, max int) []types.SignedMessage {
	if len(msgs) > max {
		return msgs[:max]
	}
	return msgs
}
