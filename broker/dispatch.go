package broker

import (
	"go.uber.org/zap"
)

// Commit copies data into the account's write slot and marks it committed.
// The data length must equal the account's cache size exactly.
func (m *Broker) Commit(id string, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.find(id)
	if acc == nil {
		m.log.Warnw("account not created", zap.String("id", id))
		return false
	}

	if len(data) == 0 || len(data) != acc.cacheSize {
		m.log.Errorw("commit size does not match the account cache",
			zap.String("id", id),
			zap.Int("size", len(data)),
			zap.Int("cache_size", acc.cacheSize),
		)
		return false
	}

	wbuf, ok := acc.cache.WriteBuf()
	if !ok {
		return false
	}

	copy(wbuf, data)
	acc.cache.FinishWrite()

	m.log.Debugw("committed", zap.String("id", id), zap.Int("size", len(data)))
	return true
}

// publishTarget is a subscriber snapshot taken under the mutex so that the
// callback walk happens outside of it. A callback may therefore call back
// into the broker; an edge added during the walk is not observed by it.
type publishTarget struct {
	id      string
	account *Account
	onEvent Callback
	cb      SubscriberFunc
	ctx     any
}

// Publish delivers the committed cache to every subscriber in subscription
// order and then releases the read slot. It returns the result of the last
// callback invoked, or ResUnknown when no subscriber had one.
func (m *Broker) Publish(id string) Result {
	m.mu.Lock()

	acc := m.find(id)
	if acc == nil {
		m.mu.Unlock()
		return ResUnknown
	}
	if acc.cacheSize == 0 {
		m.mu.Unlock()
		m.log.Errorw("publisher has no cache", zap.String("id", id))
		return ResNoCache
	}

	rbuf, ok := acc.cache.ReadBuf()
	if !ok {
		m.mu.Unlock()
		m.log.Warnw("publisher data was not committed", zap.String("id", id))
		return ResNoCommitted
	}

	targets := make([]publishTarget, 0, len(acc.subscribers))
	for _, s := range acc.subscribers {
		targets = append(targets, publishTarget{
			id:      s.peer.id,
			account: s.peer,
			onEvent: s.peer.onEvent,
			cb:      s.cb,
			ctx:     s.ctx,
		})
	}

	m.mu.Unlock()

	retval := ResUnknown
	for _, t := range targets {
		ev := &Event{
			Kind: EventPublish,
			From: id,
			To:   t.id,
			Data: rbuf,
		}

		switch {
		case t.cb != nil:
			retval = t.cb(ev, t.ctx)
		case t.onEvent != nil:
			retval = t.onEvent(t.account, ev)
		default:
			m.log.Debugw("subscriber has no callback",
				zap.String("publisher", id),
				zap.String("subscriber", t.id),
			)
		}
	}

	if discardReadData {
		m.mu.Lock()
		if m.find(id) == acc {
			acc.cache.FinishRead()
		}
		m.mu.Unlock()
	}

	return retval
}

// Pull requests data from a publisher the subscriber is subscribed to. When
// the publisher has an event callback the request is routed to it with the
// caller's buffer; otherwise the committed cache is copied out, provided
// the sizes match and something has been committed.
func (m *Broker) Pull(subscriberID, publisherID string, out []byte) Result {
	m.mu.Lock()

	sub := m.find(subscriberID)
	if sub == nil {
		m.mu.Unlock()
		m.log.Warnw("account not created", zap.String("id", subscriberID))
		return ResUnknown
	}

	pub := sub.publisherByID(publisherID)
	if pub == nil {
		m.mu.Unlock()
		m.log.Errorw("not subscribed",
			zap.String("subscriber", subscriberID),
			zap.String("publisher", publisherID),
		)
		return ResNotFound
	}

	if cb := pub.onEvent; cb != nil {
		m.mu.Unlock()
		ev := &Event{
			Kind: EventPull,
			From: subscriberID,
			To:   publisherID,
			Data: out,
		}
		return cb(pub, ev)
	}

	defer m.mu.Unlock()

	if pub.cacheSize != len(out) {
		m.log.Errorw("pull size does not match the publisher cache",
			zap.String("publisher", publisherID),
			zap.Int("cache_size", pub.cacheSize),
			zap.String("subscriber", subscriberID),
			zap.Int("size", len(out)),
		)
		return ResSizeMismatch
	}

	rbuf, ok := pub.cache.ReadBuf()
	if !ok {
		m.log.Warnw("publisher data was not committed", zap.String("id", publisherID))
		return ResNoCommitted
	}

	copy(out, rbuf)
	if discardReadData {
		pub.cache.FinishRead()
	}

	return ResOK
}

// Notify sends data directly to a publisher the subscriber is subscribed
// to. The publisher must have an event callback.
func (m *Broker) Notify(subscriberID, publisherID string, data []byte) Result {
	m.mu.Lock()

	sub := m.find(subscriberID)
	if sub == nil {
		m.mu.Unlock()
		m.log.Warnw("account not created", zap.String("id", subscriberID))
		return ResUnknown
	}

	pub := sub.publisherByID(publisherID)
	if pub == nil {
		m.mu.Unlock()
		m.log.Errorw("not subscribed",
			zap.String("subscriber", subscriberID),
			zap.String("publisher", publisherID),
		)
		return ResNotFound
	}

	cb := pub.onEvent
	m.mu.Unlock()

	if cb == nil {
		m.log.Warnw("publisher has no callback", zap.String("id", publisherID))
		return ResNoCallback
	}

	ev := &Event{
		Kind: EventNotify,
		From: subscriberID,
		To:   publisherID,
		Data: data,
	}
	return cb(pub, ev)
}

// Tick delivers a timer event to every account matching the glob pattern
// that has an event callback registered. It returns the number of accounts
// the event was delivered to.
func (m *Broker) Tick(pattern string) (int, error) {
	type tickTarget struct {
		id      string
		account *Account
		onEvent Callback
	}

	ids, err := m.Accounts(pattern)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	targets := make([]tickTarget, 0, len(ids))
	for _, id := range ids {
		if acc := m.find(id); acc != nil && acc.onEvent != nil {
			targets = append(targets, tickTarget{id: id, account: acc, onEvent: acc.onEvent})
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		ev := &Event{
			Kind: EventTimer,
			From: t.id,
			To:   t.id,
		}
		t.onEvent(t.account, ev)
	}

	return len(targets), nil
}
