package types

import "github.com/filecoin-project/go-state-types/big"

// Protocol constants consumed by the selection engine and the payment
// channel manager. Values per the Filecoin message-pool/paych protocol.
const (
	// BlockGasLimit is the maximum aggregate gas_limit a block's messages
	// may consume.
	BlockGasLimit int64 = 10_000_000_000

	// MinGas is the floor below which the tail loop in merge-and-trim
	// stops trying to pack additional chains.
	MinGas int64 = 1_298_450

	// MaxBlockMsgs caps the number of messages returned by selection.
	MaxBlockMsgs = 16_000

	// MaxBlocks bounds the number of virtual-block partitions used by the
	// optimal selection path.
	MaxBlocks = 15

	// MessageConfidence is the number of epochs a message must be buried
	// before the chain watcher treats it as final.
	MessageConfidence = 5

	// TicketQualityGreedyCutoff is the ticket-quality threshold above
	// which selection runs the greedy path instead of the optimal path.
	TicketQualityGreedyCutoff = 0.84
)

// MinGasBig is MinGas as a big.Int, for comparisons against gas-limit
// arithmetic that is already in big.Int form.
var MinGasBig = big.NewInt(MinGas)
