package messagepool

import (
	"context"

	fbig "github.com/filecoin-project/go-state-types/big"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/types"
)

// selectPriority implements spec.md §4.3: pull every configured priority
// sender out of pending, build its chains, and merge-and-trim them ahead
// of the general pool. Senders removed here are never reconsidered by the
// general stage.
func selectPriority(ctx context.Context, provider chainapi.Provider, pending PendingSet, baseFee fbig.Int, cfg *Config) ([]types.SignedMessage, int64, error) {
	var pool []*MsgChain
	for _, addr := range cfg.PriorityAddrs {
		bySeq, ok := pending[addr]
		if !ok || len(bySeq) == 0 {
			continue
		}
		delete(pending, addr)

		msgs := make([]types.SignedMessage, 0, len(bySeq))
		for _, sm := range bySeq {
			msgs = append(msgs, sm)
		}
		chains, err := buildChains(chainCtx{ctx: ctx, provider: provider}, msgs, baseFee)
		if err != nil {
			return nil, 0, err
		}
		pool = append(pool, chains...)
	}

	selected, remaining := mergeAndTrim(pool, baseFee, cfg.GasLimit, cfg.MinGas)
	return selected, remaining, nil
}
