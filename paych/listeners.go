package paych

import (
	"sync"

	"github.com/ipfs/go-cid"
)

// MsgListener is notified once a message this manager submitted for a
// channel reaches message confidence, successfully or not.
type MsgListener func(channelID string, mcid cid.Cid, err error)

// MsgListeners is a minimal typed event bus supplementing spec.md's core
// flows (SPEC_FULL.md §11): callers that want to react to create/add-funds
// completion without polling the store can subscribe here instead.
type MsgListeners struct {
	mu   sync.Mutex
	subs []MsgListener
}

func NewMsgListeners() *MsgListeners {
	return &MsgListeners{}
}

// Subscribe registers fn for every future message completion.
func (l *MsgListeners) Subscribe(fn MsgListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

func (l *MsgListeners) fire(channelID string, mcid cid.Cid, err error) {
	l.mu.Lock()
	subs := append([]MsgListener(nil), l.subs...)
	l.mu.Unlock()
	for _, fn := range subs {
		fn(channelID, mcid, err)
	}
}
