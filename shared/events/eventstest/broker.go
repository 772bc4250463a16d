// Package eventstest provides an in-process events.Broker for tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/Deathrow002/Core-Banking/shared/events"
)

// Broker delivers every published message to every live subscriber of the
// channel and records it. Set PublishErr to make Publish fail.
type Broker struct {
	PublishErr func(msg events.Message) error

	mu        sync.Mutex
	published []events.Message
	subs      map[string][]chan events.Message
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]chan events.Message)}
}

func (b *Broker) Publish(ctx context.Context, msg events.Message) error {
	if b.PublishErr != nil {
		if err := b.PublishErr(msg); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.published = append(b.published, msg)
	targets := append([]chan events.Message(nil), b.subs[msg.Channel]...)
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, sub events.Subscription, fn events.MessageFunc) error {
	ch := make(chan events.Message, 64)
	b.mu.Lock()
	b.subs[sub.Channel] = append(b.subs[sub.Channel], ch)
	b.mu.Unlock()
	if sub.OnReady != nil {
		sub.OnReady()
	}

	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[sub.Channel]
		for i, c := range list {
			if c == ch {
				b.subs[sub.Channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			_ = fn(ctx, msg)
		}
	}
}

// Published returns a copy of the messages published on channel.
func (b *Broker) Published(channel string) []events.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Message
	for _, m := range b.published {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// Subscribers reports how many subscribers are live on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
