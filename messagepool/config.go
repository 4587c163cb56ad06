package messagepool

import (
	"fmt"

	"github.com/filecoin-project/go-address"

	"github.com/filecoin-project/fil-selectpay/types"
)

// DefaultConfig mirrors the protocol defaults: no priority senders, and
// the block gas limit / min-gas constants from the types package.
var DefaultConfig = Config{
	PriorityAddrs: make([]address.Address, 0),
	SizeLimitLow:  32,
	GasLimit:      types.BlockGasLimit,
	MinGas:        types.MinGas,
}

// Config holds the tunables a node operator sets for selection: which
// senders bypass general packing, and the capacity hint / gas constants
// selection runs against.
type Config struct {
	// PriorityAddrs are senders whose pending messages are packed first,
	// ahead of the general merge-and-trim pass.
	PriorityAddrs []address.Address
	// SizeLimitLow is a capacity hint for the selection result slice.
	SizeLimitLow int
	// GasLimit is the per-block aggregate gas budget; defaults to
	// types.BlockGasLimit but is configurable for test fixtures and
	// alternate network parameters.
	GasLimit int64
	// MinGas is the floor below which merge-and-trim's tail loop stops.
	MinGas int64
}

func (c *Config) String() string {
	return fmt.Sprintf("PriorityAddrs: %v, SizeLimitLow: %d, GasLimit: %d, MinGas: %d",
		c.PriorityAddrs, c.SizeLimitLow, c.GasLimit, c.MinGas)
}

// IsPriority reports whether addr is configured to bypass general
// merge-and-trim packing.
func (c *Config) IsPriority(addr address.Address) bool {
	for _, p := range c.PriorityAddrs {
		if p == addr {
			return true
		}
	}
	return false
}
