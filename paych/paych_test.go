package paych

import (
	"context"
	"testing"

	fbig "github.com/filecoin-project/go-state-types/big"
	ds "github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/fil-selectpay/errs"
)

func newTestManager(provider *fakeProvider) (*Manager, *fakePusher) {
	store := NewStore(ds.NewMapDatastore())
	pusher := &fakePusher{}
	mgr := NewManager(store, provider, pusher, fakeKeys{})
	return mgr, pusher
}

func TestCreateVoucherSigns(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)

	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		ci.Amount = fbig.NewInt(1000)
		ci.PendingAmount = fbig.Zero()
		return nil
	}))

	v, err := mgr.CreateVoucher(ctx, info.ID, 0, fbig.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, channel, v.ChannelAddr)
	assert.Equal(t, uint64(0), v.Nonce)
	assert.NotEmpty(t, v.Signature)

	second, err := mgr.CreateVoucher(ctx, info.ID, 0, fbig.NewInt(150))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Nonce)
}

func TestCheckVoucherValidAcceptsFreshVoucher(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)

	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		ci.Amount = fbig.NewInt(1000)
		ci.PendingAmount = fbig.Zero()
		return nil
	}))

	v := &SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 0, Amount: fbig.NewInt(100), Signature: []byte{1}}
	err = mgr.CheckVoucherValid(ctx, info.ID, v)
	assert.NoError(t, err)
}

func TestCheckVoucherValidRejectsNonceTooLow(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)

	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		ci.Amount = fbig.NewInt(1000)
		ci.PendingAmount = fbig.Zero()
		ci.Vouchers = []VoucherInfo{{Voucher: SignedVoucher{
			ChannelAddr: channel, Lane: 0, Nonce: 5, Amount: fbig.NewInt(50), Signature: []byte{1},
		}}}
		return nil
	}))

	stale := &SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 3, Amount: fbig.NewInt(80), Signature: []byte{1}}
	err = mgr.CheckVoucherValid(ctx, info.ID, stale)
	require.Error(t, err)
	assert.Equal(t, errs.NonceTooLow, errs.Of(err))
}

func TestCheckVoucherValidRejectsAmountRegression(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)

	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		ci.Amount = fbig.NewInt(1000)
		ci.Vouchers = []VoucherInfo{{Voucher: SignedVoucher{
			ChannelAddr: channel, Lane: 0, Nonce: 1, Amount: fbig.NewInt(200), Signature: []byte{1},
		}}}
		return nil
	}))

	regressed := &SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 2, Amount: fbig.NewInt(150), Signature: []byte{1}}
	err = mgr.CheckVoucherValid(ctx, info.ID, regressed)
	require.Error(t, err)
	assert.Equal(t, errs.AmountRegression, errs.Of(err))
}

func TestCheckVoucherValidRejectsMerges(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)

	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		ci.Amount = fbig.NewInt(1000)
		return nil
	}))

	v := &SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 1, Amount: fbig.NewInt(10), Signature: []byte{1}, Merges: []Merge{{Lane: 1, Nonce: 1}}}
	err = mgr.CheckVoucherValid(ctx, info.ID, v)
	require.Error(t, err)
	assert.Equal(t, errs.MergesUnsupported, errs.Of(err))
}

func TestCheckVoucherValidRejectsInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(50)

	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		ci.Amount = fbig.NewInt(1000)
		return nil
	}))

	v := &SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 1, Amount: fbig.NewInt(100), Signature: []byte{1}}
	err = mgr.CheckVoucherValid(ctx, info.ID, v)
	require.Error(t, err)
	assert.Equal(t, errs.InsufficientFunds, errs.Of(err))
}

func TestAddVoucherIdempotent(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)
	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		return nil
	}))

	v := SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 1, Amount: fbig.NewInt(100), Signature: []byte{9}}
	delta1, err := mgr.AddVoucher(ctx, info.ID, v, nil, fbig.Zero())
	require.NoError(t, err)
	assert.Equal(t, fbig.NewInt(100), delta1)

	delta2, err := mgr.AddVoucher(ctx, info.ID, v, nil, fbig.Zero())
	require.NoError(t, err)
	assert.True(t, delta2.IsZero())
}

func TestAddVoucherRejectsBelowMinDelta(t *testing.T) {
	ctx := context.Background()
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	provider.state.Balance = fbig.NewInt(1000)
	mgr, _ := newTestManager(provider)
	info, err := mgr.store.CreateChannel(ctx, control, target, fbig.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, mgr.store.MutateChannel(ctx, info.ID, func(ci *ChannelInfo) error {
		ci.Channel = &channel
		return nil
	}))

	v := SignedVoucher{ChannelAddr: channel, Lane: 0, Nonce: 1, Amount: fbig.NewInt(10), Signature: []byte{9}}
	_, err = mgr.AddVoucher(ctx, info.ID, v, nil, fbig.NewInt(50))
	require.Error(t, err)
	assert.Equal(t, errs.DeltaTooLow, errs.Of(err))
}

// TestFundsRequestQueueCoalescing covers scenario S6: several funds
// requests sharing (from, to) that are enqueued before a processing tick
// runs are merged into a single push.
func TestFundsRequestQueueCoalescing(t *testing.T) {
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	mgr, pusher := newTestManager(provider)

	const n = 5
	reqs := make([]*fundsRequest, n)
	for i := 0; i < n; i++ {
		reqs[i] = &fundsRequest{from: control, to: target, amount: fbig.NewInt(10), active: true, done: make(chan *PaychFundsRes, 1)}
		mgr.queue.enqueue(reqs[i])
	}

	mgr.queue.processQueue(context.Background())

	for i, r := range reqs {
		select {
		case res := <-r.done:
			require.NotNil(t, res, "request %d", i)
			require.NoError(t, res.Err, "request %d", i)
		default:
			t.Fatalf("request %d was not completed by the tick", i)
		}
	}
	assert.Equal(t, int32(1), pusher.calls)
}

// TestGetPaychCreatesChannel exercises the public API end to end for a
// single caller: a first get_paych on an untracked pair pushes exactly
// one create message.
func TestGetPaychCreatesChannel(t *testing.T) {
	control := mkAddr(100)
	target := mkAddr(101)
	channel := mkAddr(200)

	provider := newFakeProvider(channel)
	mgr, pusher := newTestManager(provider)

	res, err := mgr.GetPaych(context.Background(), control, target, fbig.NewInt(10))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(1), pusher.calls)
}
