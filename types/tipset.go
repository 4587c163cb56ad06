package types

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// TipSetKey is the sorted set of block CIDs identifying a tipset.
type TipSetKey struct {
	cids []cid.Cid
}

// NewTipSetKey builds a key from block CIDs. Caller is expected to have
// already sorted/deduplicated them the way chain-reader output does.
func NewTipSetKey(cids ...cid.Cid) TipSetKey {
	cp := make([]cid.Cid, len(cids))
	copy(cp, cids)
	return TipSetKey{cids: cp}
}

func (k TipSetKey) Cids() []cid.Cid { return k.cids }

func (k TipSetKey) Equals(o TipSetKey) bool {
	if len(k.cids) != len(o.cids) {
		return false
	}
	for i, c := range k.cids {
		if !c.Equals(o.cids[i]) {
			return false
		}
	}
	return true
}

// BlockHeader is the subset of a Filecoin block header needed by the
// selection engine: enough to identify the block, its epoch, its parent
// tipset, and its parent base fee.
type BlockHeader struct {
	Cid             cid.Cid
	Miner           string
	Height          abi.ChainEpoch
	Parents         TipSetKey
	ParentWeight    big.Int
	ParentBaseFee   big.Int
	Ticket          []byte
	BLSMessages     []cid.Cid
	SECPMessages    []cid.Cid
}

// TipSet is a set of block headers at one epoch sharing parents.
type TipSet struct {
	Key     TipSetKey
	Headers []BlockHeader
}

func (ts *TipSet) Height() abi.ChainEpoch {
	if len(ts.Headers) == 0 {
		return 0
	}
	return ts.Headers[0].Height
}

func (ts *TipSet) Parents() TipSetKey {
	if len(ts.Headers) == 0 {
		return TipSetKey{}
	}
	return ts.Headers[0].Parents
}

func (ts *TipSet) ParentWeight() big.Int {
	if len(ts.Headers) == 0 {
		return big.Zero()
	}
	return ts.Headers[0].ParentWeight
}

func (ts *TipSet) Blocks() []BlockHeader { return ts.Headers }

func (ts *TipSet) Equals(o *TipSet) bool {
	if ts == nil || o == nil {
		return ts == o
	}
	return ts.Key.Equals(o.Key)
}
