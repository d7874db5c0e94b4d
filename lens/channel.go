// Copyright © 2024 The ELPS authors

package lens

import "sync"

// Subscriber receives every snapshot published on a Channel.
type Subscriber func(uri string, s Snapshot)

// Channel fans snapshots pushed by a single producer out to subscriber
// closures. It keeps only the most recent snapshot per document.
type Channel struct {
	mu     sync.Mutex
	subs   []*channelSub
	latest map[string]Snapshot
}

type channelSub struct {
	fn Subscriber
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{latest: make(map[string]Snapshot)}
}

// Publish records s as the latest snapshot for uri and delivers it to every
// subscriber, in subscription order, on the calling goroutine. Subscribers
// are called without the channel lock held, so they may unsubscribe.
func (c *Channel) Publish(uri string, s Snapshot) {
	c.mu.Lock()
	c.latest[uri] = s
	subs := make([]*channelSub, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	if len(subs) == 0 {
		log.Debugf("snapshot for %s discarded: no subscribers", uri)
	}
	for _, sub := range subs {
		sub.fn(uri, s)
	}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (c *Channel) Subscribe(fn Subscriber) (unsubscribe func()) {
	sub := &channelSub{fn: fn}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s == sub {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Latest returns the most recent snapshot published for uri.
func (c *Channel) Latest(uri string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.latest[uri]
	return s, ok
}

// Subscribers returns the number of registered subscribers.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
