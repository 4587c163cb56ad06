package paych

import (
	"context"
	"sync/atomic"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/types"
)

// fakeProvider is a minimal chainapi.Provider. LoadActorState writes a
// caller-configured channelActorState into out; WaitForMessage always
// reports immediate success against a fixed channel address, matching
// messagepool's fakeProvider style (see messagepool/fake_provider_test.go).
type fakeProvider struct {
	state     channelActorState
	createdTo address.Address
}

func newFakeProvider(createdTo address.Address) *fakeProvider {
	return &fakeProvider{
		state:     channelActorState{Balance: fbig.Zero(), ToSend: fbig.Zero(), Lanes: map[uint64]LaneState{}},
		createdTo: createdTo,
	}
}

func (p *fakeProvider) LoadTipSet(ctx context.Context, key types.TipSetKey) (*types.TipSet, error) {
	return &types.TipSet{}, nil
}

func (p *fakeProvider) MessagesForBlock(ctx context.Context, b *types.BlockHeader) ([]types.Message, []types.SignedMessage, error) {
	return nil, nil, nil
}

func (p *fakeProvider) ChainComputeBaseFee(ctx context.Context, ts *types.TipSet) (fbig.Int, error) {
	return fbig.Zero(), nil
}

func (p *fakeProvider) GetHeaviestTipset(ctx context.Context) (*types.TipSet, error) {
	return &types.TipSet{}, nil
}

func (p *fakeProvider) LoadActorState(ctx context.Context, addr address.Address, stateRoot cid.Cid, out interface{}) error {
	st, ok := out.(*channelActorState)
	if !ok {
		return nil
	}
	*st = p.state
	return nil
}

func (p *fakeProvider) Call(ctx context.Context, msg *types.Message, ts *types.TipSet) (*chainapi.InvocResult, error) {
	return &chainapi.InvocResult{}, nil
}

func (p *fakeProvider) WaitForMessage(ctx context.Context, mcid cid.Cid, confidence uint64) (*types.TipSet, *chainapi.MessageReceipt, error) {
	return &types.TipSet{}, &chainapi.MessageReceipt{Return: p.createdTo.Bytes()}, nil
}

func (p *fakeProvider) AccountState(ctx context.Context, addr address.Address) (fbig.Int, uint64, error) {
	return fbig.Zero(), 0, nil
}

// fakePusher counts pushes and assigns each an incrementing cid.
type fakePusher struct {
	calls int32
}

func (p *fakePusher) PushUnsigned(ctx context.Context, msg *types.Message) (*types.SignedMessage, error) {
	n := atomic.AddInt32(&p.calls, 1)
	return &types.SignedMessage{Message: *msg, CID: mkCid(n)}, nil
}

// fakeKeys signs by returning a fixed non-empty signature.
type fakeKeys struct{}

func (fakeKeys) Sign(ctx context.Context, addr address.Address, data []byte) (*types.Signature, error) {
	return &types.Signature{Type: 1, Data: []byte{0x01, 0x02, 0x03}}, nil
}

func mkAddr(id uint64) address.Address {
	a, err := address.NewIDAddress(id)
	if err != nil {
		panic(err)
	}
	return a
}

func mkCid(n int32) cid.Cid {
	mh, err := multihash.Sum([]byte{byte(n), byte(n >> 8)}, multihash.SHA2_256, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}
