package messagepool

import (
	"context"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/types"
)

// fakeProvider is a minimal chainapi.Provider for exercising selection
// without a real node. Each sender's balance comes from the balances map
// (zero when absent) and its next sequence is always 0, which is all
// buildChains' precondition filter needs.
type fakeProvider struct {
	baseFee  fbig.Int
	balances map[address.Address]fbig.Int
	blocks   map[string][]types.SignedMessage
	parents  map[string]*types.TipSet
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		baseFee:  fbig.Zero(),
		balances: make(map[address.Address]fbig.Int),
		blocks:   make(map[string][]types.SignedMessage),
		parents:  make(map[string]*types.TipSet),
	}
}

func (p *fakeProvider) LoadTipSet(ctx context.Context, key types.TipSetKey) (*types.TipSet, error) {
	k := tipSetKeyStr(key)
	if ts, ok := p.parents[k]; ok {
		return ts, nil
	}
	return &types.TipSet{}, nil
}

func (p *fakeProvider) MessagesForBlock(ctx context.Context, b *types.BlockHeader) ([]types.Message, []types.SignedMessage, error) {
	return nil, p.blocks[b.Cid.String()], nil
}

func (p *fakeProvider) ChainComputeBaseFee(ctx context.Context, ts *types.TipSet) (fbig.Int, error) {
	return p.baseFee, nil
}

func (p *fakeProvider) GetHeaviestTipset(ctx context.Context) (*types.TipSet, error) {
	return &types.TipSet{}, nil
}

func (p *fakeProvider) LoadActorState(ctx context.Context, addr address.Address, stateRoot cid.Cid, out interface{}) error {
	return nil
}

func (p *fakeProvider) Call(ctx context.Context, msg *types.Message, ts *types.TipSet) (*chainapi.InvocResult, error) {
	return &chainapi.InvocResult{}, nil
}

func (p *fakeProvider) WaitForMessage(ctx context.Context, mcid cid.Cid, confidence uint64) (*types.TipSet, *chainapi.MessageReceipt, error) {
	return &types.TipSet{}, &chainapi.MessageReceipt{}, nil
}

func (p *fakeProvider) AccountState(ctx context.Context, addr address.Address) (fbig.Int, uint64, error) {
	bal, ok := p.balances[addr]
	if !ok {
		bal = fbig.Zero()
	}
	return bal, 0, nil
}

func tipSetKeyStr(k types.TipSetKey) string {
	s := ""
	for _, c := range k.Cids() {
		s += c.String()
	}
	return s
}

func mkAddr(id uint64) address.Address {
	a, err := address.NewIDAddress(id)
	if err != nil {
		panic(err)
	}
	return a
}

func mkCid(s string) cid.Cid {
	mh, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}
