package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/sofianedjerbi/rouse/internal/model"
)

var (
	// ErrChannelUnavailable indicates a transient delivery failure worth
	// retrying
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrRateLimited indicates the channel pushed back; retry later
	ErrRateLimited = errors.New("rate limited by channel")

	// ErrInvalidTarget indicates the target can never be delivered to;
	// retrying is pointless
	ErrInvalidTarget = errors.New("invalid notification target")

	// ErrDeliveryFailed indicates the channel accepted the request but
	// delivery did not happen; retried like any transient failure
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrUnknownChannel indicates no notifier is registered for the
	// notification's channel
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// NotifyResult carries the delivery receipt of a successful send.
type NotifyResult struct {
	// ExternalID is the channel's identifier for the delivery, when the
	// channel hands one out
	ExternalID string
	// Metadata holds channel-specific delivery details
	Metadata map[string]string
}

// Notifier delivers one notification over one channel.
type Notifier interface {
	// Channel returns the channel name this notifier serves
	Channel() string

	// Notify attempts delivery. Transient failures are reported via
	// ErrChannelUnavailable, ErrRateLimited or ErrDeliveryFailed,
	// permanent ones via ErrInvalidTarget.
	Notify(ctx context.Context, notification *model.Notification) (*NotifyResult, error)
}

// Registry maps channel names to notifiers.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates an empty notifier registry.
func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

// Register adds a notifier, replacing any previous one for the channel.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Channel()] = n
}

// Get returns the notifier for a channel, or ErrUnknownChannel.
func (r *Registry) Get(channel string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifiers[channel]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return n, nil
}
