// Package paych implements the off-chain payment-channel manager: durable
// channel/voucher state, the per-channel accessor that coordinates
// create/add-funds/settle/collect and voucher validation, a funds-request
// queue that coalesces concurrent top-up demands, and a chain watcher
// that waits out message confidence.
package paych

import (
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// Direction records whether a channel's control (payer) address is local.
type Direction int

const (
	DirUnknown Direction = iota
	DirInbound
	DirOutbound
)

// SignedVoucher is the off-chain signed claim redeemable on-chain.
// Canonical signing bytes (spec.md §6) cover every field below except
// Signature.
type SignedVoucher struct {
	ChannelAddr     address.Address
	TimeLockMin     abi.ChainEpoch
	TimeLockMax     abi.ChainEpoch
	SecretPreimage  []byte
	Extra           *ModVerifyParams
	Lane            uint64
	Nonce           uint64
	Amount          fbig.Int
	MinSettleHeight abi.ChainEpoch
	Merges          []Merge
	Signature       []byte
}

// ModVerifyParams describes an optional extra validator a voucher's
// redemption must satisfy, and the proof bytes that validator consumes.
type ModVerifyParams struct {
	Actor  address.Address
	Method abi.MethodNum
	Data   []byte
}

// Merge describes a cross-lane merge a voucher requests. Per spec.md §9c
// and §12, any non-empty Merges is rejected unconditionally; the field is
// retained only for forward wire compatibility.
type Merge struct {
	Lane  uint64
	Nonce uint64
}

// VoucherInfo pairs a stored voucher with its redemption proof bytes and
// whether it has already been submitted on-chain.
type VoucherInfo struct {
	Voucher   SignedVoucher
	Proof     []byte
	Submitted bool
}

// ChannelInfo is the durable off-chain record for one payment channel.
// CreateMsg and Channel are mutually exclusive after the first top-up:
// exactly one is set at any time.
type ChannelInfo struct {
	ID            string
	Channel       *address.Address
	Control       address.Address
	Target        address.Address
	Direction     Direction
	Amount        fbig.Int
	PendingAmount fbig.Int
	NextLane      uint64
	CreateMsg     *cid.Cid
	AddFundsMsg   *cid.Cid
	Settling      bool
	Vouchers      []VoucherInfo
}

// LaneState is the merged view of a lane's on-chain AMT entry overlaid
// with any locally stored vouchers whose nonce is at least as high.
type LaneState struct {
	Nonce    uint64
	Redeemed fbig.Int
}

// MsgInfo is the secondary record tracking the outcome of a message this
// manager submitted.
type MsgInfo struct {
	ChannelID string
	Err       string
}
