package paych

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"

	"github.com/filecoin-project/fil-selectpay/errs"
)

var log = logging.Logger("paych")

var (
	channelPrefix  = ds.NewKey("/channel")
	msgPrefix      = ds.NewKey("/msg")
	outboundPrefix = ds.NewKey("/outbound")
)

// Store implements spec.md §4.6: durable channel_id -> ChannelInfo plus a
// secondary index over (from, to) for outbound-active lookups. It wraps
// a namespaced ipfs/go-datastore, following the prefixing convention in
// other_examples' paymentchannel manager (statestore-over-datastore), and
// JSON-encodes records the way other_examples' payments-channel.go.go
// round-trips actor state through JSON.
type Store struct {
	mu sync.Mutex
	ds ds.Batching
}

func NewStore(backing ds.Batching) *Store {
	return &Store{ds: namespace.Wrap(backing, ds.NewKey("/paych")).(ds.Batching)}
}

func channelKey(id string) ds.Key { return channelPrefix.ChildString(id) }
func msgKey(c string) ds.Key      { return msgPrefix.ChildString(c) }
func outboundKey(from, to string) ds.Key {
	return outboundPrefix.ChildString(from).ChildString(to)
}

// PutChannelInfo persists info, overwriting any prior record for its ID,
// and refreshes the outbound secondary index when applicable.
func (s *Store) PutChannelInfo(ctx context.Context, info *ChannelInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(ctx, info)
}

func (s *Store) putLocked(ctx context.Context, info *ChannelInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return errs.Wrap(errs.Encoding, err, "marshal channel info")
	}
	if err := s.ds.Put(ctx, channelKey(info.ID), b); err != nil {
		return errs.Wrap(errs.StoreIO, err, "put channel info")
	}
	if info.Direction == DirOutbound {
		if err := s.ds.Put(ctx, outboundKey(info.Control.String(), info.Target.String()), []byte(info.ID)); err != nil {
			return errs.Wrap(errs.StoreIO, err, "put outbound index")
		}
	}
	return nil
}

// ByChannelID loads a ChannelInfo by its opaque id.
func (s *Store) ByChannelID(ctx context.Context, id string) (*ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (*ChannelInfo, error) {
	b, err := s.ds.Get(ctx, channelKey(id))
	if err != nil {
		return nil, errs.Wrap(errs.ChannelNotTracked, err, "channel %s", id)
	}
	var info ChannelInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, errs.Wrap(errs.Encoding, err, "unmarshal channel info")
	}
	return &info, nil
}

// OutboundActiveByFromTo returns the outbound-active channel for a
// (from, to) pair, or ChannelNotTracked.
func (s *Store) OutboundActiveByFromTo(ctx context.Context, from, to address.Address) (*ChannelInfo, error) {
	s.mu.Lock()
	idBytes, err := s.ds.Get(ctx, outboundKey(from.String(), to.String()))
	if err != nil {
		s.mu.Unlock()
		return nil, errs.Wrap(errs.ChannelNotTracked, err, "no outbound channel %s -> %s", from, to)
	}
	info, err := s.getLocked(ctx, string(idBytes))
	s.mu.Unlock()
	return info, err
}

// CreateChannel allocates a new channel id and persists an initial
// ChannelInfo awaiting its create message to land on chain (spec.md §3:
// CreateMsg and Channel are mutually exclusive initial states).
func (s *Store) CreateChannel(ctx context.Context, from, to address.Address, amount fbig.Int) (*ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := &ChannelInfo{
		ID:            uuid.New().String(),
		Control:       from,
		Target:        to,
		Direction:     DirOutbound,
		Amount:        fbig.Zero(),
		PendingAmount: amount,
		NextLane:      0,
	}
	if err := s.putLocked(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

// RemoveChannel deletes a channel record, e.g. after a failed create.
func (s *Store) RemoveChannel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ds.Delete(ctx, channelKey(id)); err != nil {
		return errs.Wrap(errs.StoreIO, err, "remove channel %s", id)
	}
	return nil
}

// AllocateLane returns the next lane id for id and persists the
// increment before returning, per spec.md §6 ("allocate_lane persists
// the new next_lane before returning").
func (s *Store) AllocateLane(ctx context.Context, id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.getLocked(ctx, id)
	if err != nil {
		return 0, err
	}
	lane := info.NextLane
	info.NextLane++
	if err := s.putLocked(ctx, info); err != nil {
		return 0, err
	}
	return lane, nil
}

// SaveNewMessage records the CID of a message this manager just
// submitted for channel id.
func (s *Store) SaveNewMessage(ctx context.Context, id string, mcid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ds.Put(ctx, msgKey(mcid), []byte(id)); err != nil {
		return errs.Wrap(errs.StoreIO, err, "save new message %s", mcid)
	}
	return nil
}

// SaveMsgResult records the outcome (empty string on success, else the
// error) of a previously-submitted message.
func (s *Store) SaveMsgResult(ctx context.Context, mcid string, channelID string, errStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(MsgInfo{ChannelID: channelID, Err: errStr})
	if err != nil {
		return errs.Wrap(errs.Encoding, err, "marshal msg info")
	}
	if err := s.ds.Put(ctx, msgKey(mcid), b); err != nil {
		return errs.Wrap(errs.StoreIO, err, "save message result %s", mcid)
	}
	return nil
}

// MutateChannel loads, applies fn, and persists a ChannelInfo atomically
// with respect to other Store mutations (spec.md §4.6: "all mutations
// atomic per channel").
func (s *Store) MutateChannel(ctx context.Context, id string, fn func(*ChannelInfo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(info); err != nil {
		return err
	}
	return s.putLocked(ctx, info)
}
