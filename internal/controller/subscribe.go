package controller

import "github.com/gateway-fm/stringstore/pkg/types"

// subscriberBuffer is the per-subscriber queue depth. A slow subscriber loses
// intermediate states but always receives the newest one.
const subscriberBuffer = 8

// Subscribe returns a channel that receives a snapshot after every state
// change, and a function that ends the subscription. Snapshots can arrive
// out of order under contention; compare State.Version to discard stale ones.
func (c *Controller) Subscribe() (<-chan types.State, func()) {
	ch := make(chan types.State, subscriberBuffer)

	c.subMu.Lock()
	if c.lifetime.Err() != nil {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()

	unsubscribe := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// publish delivers a snapshot to every subscriber without blocking.
func (c *Controller) publish(state types.State) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for ch := range c.subscribers {
		select {
		case ch <- state:
		default:
			// Queue full: drop the oldest pending snapshot to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (c *Controller) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscribers)
}
