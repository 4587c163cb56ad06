package messagepool

import (
	"sort"

	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/fil-selectpay/types"
)

// chainLess is the comparator from spec.md §4.4/§9: descending gas_perf,
// tie-broken by descending gas_reward, tie-broken by ascending sender
// address. The address tiebreak keeps the sort deterministic across
// nodes with identical pending sets, which plain slice-sort stability
// cannot guarantee once chains compare equal on both gas fields.
func chainLess(a, b *MsgChain) bool {
	if a.GasPerf != b.GasPerf {
		return a.GasPerf > b.GasPerf
	}
	if !a.GasReward.Equals(b.GasReward) {
		return a.GasReward.GreaterThan(b.GasReward)
	}
	if len(a.Msgs) == 0 || len(b.Msgs) == 0 {
		return false
	}
	return a.Msgs[0].Message.From.String() < b.Msgs[0].Message.From.String()
}

func sortChains(chains []*MsgChain) {
	sort.SliceStable(chains, func(i, j int) bool {
		return chainLess(chains[i], chains[j])
	})
}

// trimChain drops trailing messages from ch, recomputing its aggregates
// against baseFee, until ch.GasLimit fits within remainingGas or ch
// becomes invalid (empty, or negative-gas_perf head).
func trimChain(ch *MsgChain, remainingGas int64, baseFee fbig.Int) {
	for ch.GasLimit > remainingGas && len(ch.Msgs) > 0 {
		last := ch.Msgs[len(ch.Msgs)-1]
		ch.Msgs = ch.Msgs[:len(ch.Msgs)-1]
		ch.GasLimit -= last.Message.GasLimit
		ch.GasReward = fbig.Sub(ch.GasReward, last.Message.GasReward(baseFee))
		ch.GasPerf = gasPerf(ch.GasReward, ch.GasLimit)
	}
	if len(ch.Msgs) == 0 || ch.GasPerf < 0 {
		ch.Valid = false
	}
}

// mergeAndTrim implements spec.md §4.4, the packer shared by the priority
// and general selection paths.
func mergeAndTrim(chains []*MsgChain, baseFee fbig.Int, gasLimit, minGas int64) ([]types.SignedMessage, int64) {
	if len(chains) == 0 {
		return nil, gasLimit
	}
	sortChains(chains)
	if chains[0].GasPerf < 0 {
		return nil, gasLimit
	}

	var selected []types.SignedMessage
	remaining := gasLimit
	tailIdx := -1

	for i, ch := range chains {
		if ch.GasPerf < 0 {
			break
		}
		if ch.GasLimit <= remaining {
			selected = append(selected, ch.Msgs...)
			remaining -= ch.GasLimit
		} else {
			tailIdx = i
			break
		}
	}

	for remaining >= minGas && tailIdx >= 0 && tailIdx < len(chains) {
		tail := chains[tailIdx]
		trimChain(tail, remaining, baseFee)

		if tail.Valid {
			// Partial bubble-up: swap the now-smaller chain forward past
			// any neighbor it no longer outranks.
			i := tailIdx
			for i+1 < len(chains) && chainLess(chains[i+1], chains[i]) {
				chains[i], chains[i+1] = chains[i+1], chains[i]
				i++
			}
			tailIdx = i
			tail = chains[tailIdx]
		}

		if tail.Valid && tail.GasLimit <= remaining {
			selected = append(selected, tail.Msgs...)
			remaining -= tail.GasLimit
		}

		// Scan from tailIdx+1 onward for the next valid, fitting chain.
		next := -1
		for j := tailIdx + 1; j < len(chains); j++ {
			c := chains[j]
			if c.GasPerf < 0 {
				break
			}
			if !c.Valid {
				continue
			}
			if c.GasLimit <= remaining {
				next = j
				break
			}
		}

		if next < 0 {
			// Advance past the first unfitting chain and loop.
			advanced := false
			for j := tailIdx + 1; j < len(chains); j++ {
				if chains[j].GasPerf < 0 {
					tailIdx = len(chains)
					advanced = true
					break
				}
				tailIdx = j
				advanced = true
				break
			}
			if !advanced {
				tailIdx = len(chains)
			}
			continue
		}
		selected = append(selected, chains[next].Msgs...)
		remaining -= chains[next].GasLimit
		tailIdx = next + 1
	}

	return selected, remaining
}
