package messagepool

import "time"

// Selection instrumentation, adapted from the teacher's preconf/metrics.go
// grouped Metrics* helper style but rebased onto structured log fields
// rather than a separate metrics registry (see DESIGN.md for why
// go-ethereum/metrics itself was not carried forward).

func logSelectionResult(nChains, nSelected int, remainingGas int64, start time.Time) {
	log.Debugw("selection completed",
		"chains", nChains,
		"selected", nSelected,
		"remaining_gas", remainingGas,
		"elapsed", time.Since(start),
	)
}

func logPendingViewReorg(leftLen, rightLen int) {
	log.Debugw("pending view reorg walk", "left", leftLen, "right", rightLen)
}
