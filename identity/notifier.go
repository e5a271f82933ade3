package identity

import (
	"context"
	"log"

	"github.com/MrEthical07/goRecover/internal/audit"
)

// Notifier delivers a freshly issued passcode to the account owner.
type Notifier interface {
	Deliver(ctx context.Context, email, code string) error
}

// LogNotifier writes passcodes to the process log. Development only.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Deliver(_ context.Context, email, code string) error {
	if n.Logger != nil {
		n.Logger.Printf("passcode for %s: %s", audit.MaskEmail(email), code)
		return nil
	}
	log.Printf("identity: passcode for %s: %s", audit.MaskEmail(email), code)
	return nil
}

// Delivery is one passcode handed to a ChannelNotifier.
type Delivery struct {
	Email string
	Code  string
}

// ChannelNotifier pushes deliveries into a buffered channel. A full channel
// blocks until ctx is done.
type ChannelNotifier struct {
	ch chan Delivery
}

func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelNotifier{ch: make(chan Delivery, buffer)}
}

func (n *ChannelNotifier) Deliver(ctx context.Context, email, code string) error {
	select {
	case n.ch <- Delivery{Email: email, Code: code}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliveries returns the receive side of the notifier.
func (n *ChannelNotifier) Deliveries() <-chan Delivery {
	return n.ch
}
