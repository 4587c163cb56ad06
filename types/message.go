package types

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// Message is an unsigned Filecoin message, identified by (From, Sequence)
// within its sender's pending set.
type Message struct {
	Version    uint64
	To         address.Address
	From       address.Address
	Sequence   uint64
	Value      big.Int
	GasLimit   int64
	GasFeeCap  big.Int
	GasPremium big.Int
	Method     abi.MethodNum
	Params     []byte
}

// Signature is an opaque signature over a message's signing bytes. The
// scheme (secp256k1 / bls) is not interpreted by this module; it is
// produced and verified by the key store / chain reader collaborators.
type Signature struct {
	Type byte
	Data []byte
}

// SignedMessage pairs a Message with its signature and caches the CID the
// chain reader would assign it, so selection can identify messages without
// round-tripping through the chain reader.
type SignedMessage struct {
	Message   Message
	Signature Signature
	CID       cid.Cid
}

// EffectivePremium computes min(gas_premium, gas_fee_cap - base_fee), the
// per-unit-gas reward a miner actually realizes for including this
// message. May be negative, in which case the message must never be
// selected (spec invariant: no negative-reward message in a block).
func (m *Message) EffectivePremium(baseFee big.Int) big.Int {
	headroom := big.Sub(m.GasFeeCap, baseFee)
	if m.GasPremium.LessThan(headroom) {
		return m.GasPremium
	}
	return headroom
}

// GasReward is EffectivePremium(baseFee) * GasLimit.
func (m *Message) GasReward(baseFee big.Int) big.Int {
	ep := m.EffectivePremium(baseFee)
	return big.Mul(ep, big.NewInt(m.GasLimit))
}

// Key identifies a message within its sender's pending set.
type Key struct {
	From     address.Address
	Sequence uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.From, k.Sequence)
}
