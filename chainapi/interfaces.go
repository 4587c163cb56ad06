// Package chainapi declares the external collaborators the selection
// engine and payment-channel manager consume but never implement: a chain
// reader, the message-pool push path, and the signing key store. Per the
// specification these are out of scope — concrete implementations live in
// a full node, not here.
package chainapi

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fil-selectpay/types"
)

// InvocResult is the speculative-call result returned by Call.
type InvocResult struct {
	MsgCid      cid.Cid
	ExitCode    exitcode.ExitCode
	ReturnBytes []byte
	Error       string
}

// MessageReceipt is the on-chain result of an executed message.
type MessageReceipt struct {
	ExitCode exitcode.ExitCode
	Return   []byte
	GasUsed  int64
}

// Provider is the read-only chain/actor-state surface both cores depend
// on. Implementations live in the full node; this module only consumes
// it.
type Provider interface {
	LoadTipSet(ctx context.Context, key types.TipSetKey) (*types.TipSet, error)
	MessagesForBlock(ctx context.Context, b *types.BlockHeader) (blsMsgs []types.Message, secpMsgs []types.SignedMessage, err error)
	ChainComputeBaseFee(ctx context.Context, ts *types.TipSet) (big.Int, error)
	GetHeaviestTipset(ctx context.Context) (*types.TipSet, error)

	// LoadActorState decodes the actor state at addr as of stateRoot into
	// out. out must be a pointer to the caller's expected state shape.
	LoadActorState(ctx context.Context, addr address.Address, stateRoot cid.Cid, out interface{}) error

	// Call performs a speculative, non-committing invocation against
	// optional tipset ts (nil meaning the heaviest tipset).
	Call(ctx context.Context, msg *types.Message, ts *types.TipSet) (*InvocResult, error)

	WaitForMessage(ctx context.Context, mcid cid.Cid, confidence uint64) (*types.TipSet, *MessageReceipt, error)

	// AccountState reports the on-chain balance and next expected
	// sequence for addr, used by the chain constructor's precondition
	// filter (spec §4.2 step 2).
	AccountState(ctx context.Context, addr address.Address) (balance big.Int, nextSequence uint64, err error)
}

// MessagePoolPusher is the narrow push surface Core B uses to submit
// voucher/settle/collect/create/add-funds messages.
type MessagePoolPusher interface {
	PushUnsigned(ctx context.Context, msg *types.Message) (*types.SignedMessage, error)
}

// KeyStore is the signing surface consumed when creating vouchers and
// signing outgoing messages.
type KeyStore interface {
	Sign(ctx context.Context, addr address.Address, data []byte) (*types.Signature, error)
}
