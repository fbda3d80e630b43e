package broker

import (
	"github.com/bunnylib/databus/pingpong"
)

// Account is a named endpoint that can publish to its subscribers and
// subscribe to other accounts. Accounts are created and owned by a Broker;
// callbacks receive the account so they can reach its id and user data.
type Account struct {
	id       string
	userData any

	// nameBuf is the arena-owned copy of the account id; cacheBuf is the
	// arena-owned 2x cacheSize region backing the ping-pong cache.
	nameBuf   []byte
	cacheBuf  []byte
	cacheSize int
	cache     pingpong.Buffer

	onEvent Callback

	publishers  []*subscription
	subscribers []*subscription
}

// ID returns the unique account id.
func (m *Account) ID() string {
	return m.id
}

// UserData returns the opaque value supplied at account creation.
func (m *Account) UserData() any {
	return m.userData
}

// CacheSize returns the payload size of the account's publish cache, or 0
// when the account carries no cache.
func (m *Account) CacheSize() int {
	return m.cacheSize
}

// subscription is one half of a subscription edge. The publisher's
// subscribers list and the subscriber's publishers list each hold a mirror
// entry pointing at the opposite endpoint; both halves are maintained
// together under the broker mutex. cb and ctx are set on both halves when
// the edge was created with a per-subscription callback.
type subscription struct {
	peer *Account
	cb   SubscriberFunc
	ctx  any
}

func (m *Account) publisherByID(id string) *Account {
	for _, s := range m.publishers {
		if s.peer.id == id {
			return s.peer
		}
	}
	return nil
}

func removePeer(edges []*subscription, peer *Account) []*subscription {
	kept := edges[:0]
	for _, s := range edges {
		if s.peer != peer {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(edges); i++ {
		edges[i] = nil
	}
	return kept
}
