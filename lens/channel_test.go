// Copyright © 2024 The ELPS authors

package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFanOutInOrder(t *testing.T) {
	c := NewChannel()
	var got []string
	c.Subscribe(func(uri string, s Snapshot) { got = append(got, "first:"+s.String()) })
	c.Subscribe(func(uri string, s Snapshot) { got = append(got, "second:"+s.String()) })

	c.Publish("file:///a", New("a", "a"))
	c.Publish("file:///a", New("b", "b"))

	assert.Equal(t, []string{
		"first:[a]", "second:[a]",
		"first:[b]", "second:[b]",
	}, got)
}

func TestChannelLatest(t *testing.T) {
	c := NewChannel()
	_, ok := c.Latest("file:///a")
	assert.False(t, ok)

	// Nobody is listening; the snapshot is still remembered as latest.
	c.Publish("file:///a", New("a", "a"))
	c.Publish("file:///b", New("b", "b"))
	c.Publish("file:///a", New("c", "c"))

	s, ok := c.Latest("file:///a")
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, s.IDs())
	s, ok = c.Latest("file:///b")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, s.IDs())
}

func TestChannelUnsubscribe(t *testing.T) {
	c := NewChannel()
	calls := 0
	unsubscribe := c.Subscribe(func(string, Snapshot) { calls++ })
	require.Equal(t, 1, c.Subscribers())

	c.Publish("u", nil)
	unsubscribe()
	unsubscribe()
	c.Publish("u", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, c.Subscribers())
}

func TestChannelSubscriberMayUnsubscribeDuringDelivery(t *testing.T) {
	c := NewChannel()
	var unsubscribe func()
	calls := 0
	unsubscribe = c.Subscribe(func(string, Snapshot) {
		calls++
		unsubscribe()
	})
	c.Publish("u", nil)
	c.Publish("u", nil)
	assert.Equal(t, 1, calls)
}
