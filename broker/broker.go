// Package broker implements a named publish/subscribe account registry. All
// byte storage an account owns (its id copy and its double-buffered publish
// cache) comes from a heap.Arena; the broker itself never touches the
// platform allocator for payload data.
package broker

import (
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/bunnylib/databus/heap"
)

// discardReadData mirrors the cache consumption policy: a consuming read
// invalidates the read slot until the next commit.
const discardReadData = true

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// BrokerOption is a function that configures the broker.
type BrokerOption func(*options)

// WithLog sets the logger for the broker.
func WithLog(log *zap.SugaredLogger) BrokerOption {
	return func(o *options) {
		o.Log = log
	}
}

// Broker is the account registry. Accounts live in an insertion-ordered
// list; lookup is linear by id. All public operations are serialized by one
// mutex; publish, pull and notify invoke user callbacks outside of it so
// that a callback may safely call back into the broker.
type Broker struct {
	mu    sync.Mutex
	arena *heap.Arena
	head  *accountNode
	tail  *accountNode
	count int
	log   *zap.SugaredLogger
}

type accountNode struct {
	account *Account
	next    *accountNode
}

// New creates an empty broker allocating from the given arena.
func New(arena *heap.Arena, options ...BrokerOption) *Broker {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	opts.Log.Info("initialized account broker")

	return &Broker{
		arena: arena,
		log:   opts.Log,
	}
}

// Close deletes every account, tearing down all subscription edges and
// returning all arena storage.
func (m *Broker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.head != nil {
		m.deleteAccount(m.head.account)
	}

	m.log.Info("closed account broker")
}

// Count returns the number of registered accounts.
func (m *Broker) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.count
}

// Account returns the account with the given id.
func (m *Broker) Account(id string) (*Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.find(id)
	return acc, acc != nil
}

// Accounts returns the ids of all accounts matching the glob pattern, in
// registration order.
func (m *Broker) Accounts(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, m.count)
	for node := m.head; node != nil; node = node.next {
		if g.Match(node.account.id) {
			ids = append(ids, node.account.id)
		}
	}

	return ids, nil
}

// CreateAccount registers a new account. When cacheSize is non-zero the
// account gets a 2x cacheSize arena region backing its ping-pong publish
// cache. Duplicate ids are rejected. On any sub-allocation failure all
// storage acquired for this account is returned before reporting failure.
func (m *Broker) CreateAccount(id string, cacheSize int, userData any) bool {
	if id == "" || cacheSize < 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.find(id) != nil {
		m.log.Errorw("account already created", zap.String("id", id))
		return false
	}

	nameBuf := m.arena.Allocate(len(id))
	if nameBuf == nil {
		m.log.Errorw("failed to allocate account name", zap.String("id", id))
		return false
	}
	copy(nameBuf, id)

	acc := &Account{
		id:       string(nameBuf),
		userData: userData,
		nameBuf:  nameBuf,
	}

	if cacheSize > 0 {
		cacheBuf := m.arena.Callocate(2, cacheSize)
		if cacheBuf == nil {
			m.arena.Free(nameBuf)
			m.log.Errorw("failed to allocate account cache",
				zap.String("id", id),
				zap.Int("cache_size", cacheSize),
			)
			return false
		}

		acc.cacheBuf = cacheBuf
		acc.cacheSize = cacheSize
		acc.cache.Init(cacheBuf[:cacheSize], cacheBuf[cacheSize:2*cacheSize])

		m.log.Debugw("account cache attached",
			zap.String("id", id),
			zap.Int("cache_size", cacheSize),
		)
	}

	node := &accountNode{account: acc}
	if m.head == nil {
		m.head = node
	} else {
		m.tail.next = node
	}
	m.tail = node
	m.count++

	m.log.Infow("account created", zap.String("id", id))
	return true
}

// DeleteAccount removes the account: frees its cache and name storage,
// removes both directions of every incident subscription edge and unlinks
// it from the registry.
func (m *Broker) DeleteAccount(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.find(id)
	if acc == nil {
		m.log.Errorw("account not created", zap.String("id", id))
		return false
	}

	m.deleteAccount(acc)
	m.log.Infow("account deleted", zap.String("id", id))
	return true
}

func (m *Broker) deleteAccount(acc *Account) {
	if acc.cacheBuf != nil {
		m.arena.Free(acc.cacheBuf)
		acc.cacheBuf = nil
	}

	for _, s := range acc.publishers {
		s.peer.subscribers = removePeer(s.peer.subscribers, acc)
	}
	acc.publishers = nil

	for _, s := range acc.subscribers {
		s.peer.publishers = removePeer(s.peer.publishers, acc)
	}
	acc.subscribers = nil

	var prev *accountNode
	for node := m.head; node != nil; node = node.next {
		if node.account == acc {
			if prev != nil {
				prev.next = node.next
			} else {
				m.head = node.next
			}
			if m.tail == node {
				m.tail = prev
			}
			break
		}
		prev = node
	}
	m.count--

	m.arena.Free(acc.nameBuf)
	acc.nameBuf = nil
}

// Publishers returns the ids of the accounts the given account subscribes
// to, in subscription order.
func (m *Broker) Publishers(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.find(id)
	if acc == nil {
		return nil
	}

	ids := make([]string, 0, len(acc.publishers))
	for _, s := range acc.publishers {
		ids = append(ids, s.peer.id)
	}
	return ids
}

// Subscribers returns the ids of the accounts subscribed to the given
// account, in subscription order.
func (m *Broker) Subscribers(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.find(id)
	if acc == nil {
		return nil
	}

	ids := make([]string, 0, len(acc.subscribers))
	for _, s := range acc.subscribers {
		ids = append(ids, s.peer.id)
	}
	return ids
}

// LogAccount logs the subscribers and publishers of the given account, or
// the whole registry when id is empty.
func (m *Broker) LogAccount(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		m.log.Infow("registry", zap.Int("accounts", m.count))
		for node := m.head; node != nil; node = node.next {
			m.log.Infow("account",
				zap.String("id", node.account.id),
				zap.Int("cache_size", node.account.cacheSize),
				zap.Int("publishers", len(node.account.publishers)),
				zap.Int("subscribers", len(node.account.subscribers)),
			)
		}
		return
	}

	acc := m.find(id)
	if acc == nil {
		m.log.Warnw("account not created", zap.String("id", id))
		return
	}

	for _, s := range acc.subscribers {
		m.log.Infow("follower", zap.String("id", id), zap.String("subscriber", s.peer.id))
	}
	for _, s := range acc.publishers {
		m.log.Infow("subscription", zap.String("id", id), zap.String("publisher", s.peer.id))
	}
	m.log.Infow("account",
		zap.String("id", id),
		zap.Int("subscribers", len(acc.subscribers)),
		zap.Int("publishers", len(acc.publishers)),
	)
}

func (m *Broker) find(id string) *Account {
	for node := m.head; node != nil; node = node.next {
		if node.account.id == id {
			return node.account
		}
	}
	return nil
}
