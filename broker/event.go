package broker

// EventKind is the kind of event delivered to an account callback.
type EventKind int

const (
	// EventNone is the zero event kind.
	EventNone EventKind = iota
	// EventPublish is delivered to subscribers when a publisher publishes
	// its committed cache.
	EventPublish
	// EventPull is delivered to a publisher when a subscriber pulls from it.
	EventPull
	// EventNotify is delivered to a publisher when a subscriber notifies it.
	EventNotify
	// EventTimer is delivered on periodic ticks.
	EventTimer
)

func (m EventKind) String() string {
	switch m {
	case EventNone:
		return "none"
	case EventPublish:
		return "publish"
	case EventPull:
		return "pull"
	case EventNotify:
		return "notify"
	case EventTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Event is the payload passed to account callbacks. Data points at the
// publisher's read slot for publish events, at the caller's buffer for pull
// and notify events, and is nil for timer events.
type Event struct {
	Kind EventKind
	// From is the id of the account the event originates from.
	From string
	// To is the id of the account the event is delivered to.
	To string
	// Data is the event payload; its length is the payload size.
	Data []byte
}

// Result is the outcome of a dispatch operation.
type Result int

const (
	ResOK           Result = 0
	ResUnknown      Result = -1
	ResSizeMismatch Result = -2
	ResUnsupported  Result = -3
	ResNoCallback   Result = -4
	ResNoCache      Result = -5
	ResNoCommitted  Result = -6
	ResNotFound     Result = -7
	ResParamError   Result = -8
)

func (m Result) String() string {
	switch m {
	case ResOK:
		return "ok"
	case ResUnknown:
		return "unknown"
	case ResSizeMismatch:
		return "size mismatch"
	case ResUnsupported:
		return "unsupported"
	case ResNoCallback:
		return "no callback"
	case ResNoCache:
		return "no cache"
	case ResNoCommitted:
		return "no committed data"
	case ResNotFound:
		return "not found"
	case ResParamError:
		return "parameter error"
	default:
		return "unknown result"
	}
}

// Callback is the per-account event callback.
type Callback func(account *Account, ev *Event) Result

// SubscriberFunc is a per-subscription callback, carrying the user context
// supplied at subscription time.
type SubscriberFunc func(ev *Event, userCtx any) Result
