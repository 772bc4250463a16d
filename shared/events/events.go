package events

import "context"

// Channels
const (
	BalanceUpdateChannel = "account-balance-update"

	AccountValidateChannel         = "account-validate"
	AccountValidateResponseChannel = "account-validate-response"

	AccountDetailChannel         = "account-detail"
	AccountDetailResponseChannel = "account-detail-response"
)

// Message metadata keys
const (
	HeaderCorrelationID = "correlationId"
	HeaderAuthorization = "Authorization"
)

// Message is what a Broker moves: an already-encoded envelope plus headers.
type Message struct {
	ID      string
	Channel string
	Body    string
	Headers map[string]string
}

// Subscription describes where a subscriber reads from. Messages on a
// channel are load-balanced across subscribers that share a Group. An empty
// Group gives every subscriber its own copy. FromLatest skips history when
// the group is first created. An Ephemeral group belongs to this subscriber
// alone and is removed when Subscribe returns. OnReady, if set, is called
// once the subscription is in place and new messages will be seen.
type Subscription struct {
	Channel    string
	Group      string
	Consumer   string
	FromLatest bool
	Ephemeral  bool
	OnReady    func()
}

// MessageFunc handles one message. A non-nil error leaves the message
// unacknowledged where the broker supports it.
type MessageFunc func(ctx context.Context, msg Message) error

// Broker is the wire-level bus. Implementations: RedisBroker, NATSBroker.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe blocks, dispatching messages to fn until ctx is cancelled.
	Subscribe(ctx context.Context, sub Subscription, fn MessageFunc) error
}
