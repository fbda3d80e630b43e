package broker

import (
	"reflect"

	"go.uber.org/zap"
)

// RegisterCallback stores the per-account event callback invoked for
// publish, pull, notify and timer events addressed to the account.
func (m *Broker) RegisterCallback(id string, cb Callback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.find(id)
	if acc == nil {
		return false
	}

	acc.onEvent = cb
	return true
}

// Subscribe adds a subscription edge from subscriberID to publisherID.
// Self-subscription, missing accounts and duplicate edges are rejected.
// Both halves of the edge are created under the broker mutex.
func (m *Broker) Subscribe(subscriberID, publisherID string) bool {
	return m.subscribe(subscriberID, publisherID, nil, nil)
}

// SubscribeFunc adds a subscription edge whose publish deliveries go to the
// given callback with the supplied user context instead of the subscriber's
// account callback. Duplicate detection considers the subscriber id only.
func (m *Broker) SubscribeFunc(subscriberID, publisherID string, cb SubscriberFunc, userCtx any) bool {
	if cb == nil {
		return false
	}
	return m.subscribe(subscriberID, publisherID, cb, userCtx)
}

func (m *Broker) subscribe(subscriberID, publisherID string, cb SubscriberFunc, userCtx any) bool {
	if subscriberID == publisherID {
		m.log.Errorw("cannot subscribe to itself", zap.String("id", subscriberID))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub := m.find(subscriberID)
	pub := m.find(publisherID)
	if sub == nil || pub == nil {
		m.log.Errorw("cannot subscribe: account not created",
			zap.String("subscriber", subscriberID),
			zap.String("publisher", publisherID),
		)
		return false
	}

	if sub.publisherByID(publisherID) != nil {
		m.log.Errorw("already subscribed",
			zap.String("subscriber", subscriberID),
			zap.String("publisher", publisherID),
		)
		return false
	}

	sub.publishers = append(sub.publishers, &subscription{peer: pub, cb: cb, ctx: userCtx})
	pub.subscribers = append(pub.subscribers, &subscription{peer: sub, cb: cb, ctx: userCtx})

	m.log.Infow("subscribed",
		zap.String("subscriber", subscriberID),
		zap.String("publisher", publisherID),
	)
	return true
}

// Unsubscribe removes the subscription edge from subscriberID to
// publisherID, both halves together. It reports false when the edge does
// not exist.
func (m *Broker) Unsubscribe(subscriberID, publisherID string) bool {
	if subscriberID == publisherID {
		m.log.Errorw("cannot unsubscribe from itself", zap.String("id", subscriberID))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub := m.find(subscriberID)
	pub := m.find(publisherID)
	if sub == nil || pub == nil {
		return false
	}

	if sub.publisherByID(publisherID) == nil {
		m.log.Errorw("not subscribed",
			zap.String("subscriber", subscriberID),
			zap.String("publisher", publisherID),
		)
		return false
	}

	sub.publishers = removePeer(sub.publishers, pub)
	pub.subscribers = removePeer(pub.subscribers, sub)

	m.log.Infow("unsubscribed",
		zap.String("subscriber", subscriberID),
		zap.String("publisher", publisherID),
	)
	return true
}

// UnsubscribeFunc removes an edge created by SubscribeFunc. The edge is
// identified by the subscriber id, the callback and the user context; all
// three must match. The context must be a comparable value.
func (m *Broker) UnsubscribeFunc(subscriberID, publisherID string, cb SubscriberFunc, userCtx any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pub := m.find(publisherID)
	if pub == nil {
		return false
	}

	cbPtr := reflect.ValueOf(cb).Pointer()

	for i, s := range pub.subscribers {
		if s.cb == nil || s.peer.id != subscriberID || s.ctx != userCtx {
			continue
		}
		if reflect.ValueOf(s.cb).Pointer() != cbPtr {
			continue
		}

		sub := s.peer
		pub.subscribers = append(pub.subscribers[:i], pub.subscribers[i+1:]...)
		sub.publishers = removePeer(sub.publishers, pub)

		m.log.Infow("unsubscribed",
			zap.String("subscriber", subscriberID),
			zap.String("publisher", publisherID),
		)
		return true
	}

	return false
}
