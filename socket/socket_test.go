package socket_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wireq/wireq/socket"
)

func TestLifecycleFiresExactlyOnce(t *testing.T) {
	var l socket.Lifecycle
	var fired atomic.Int32
	l.OnDisconnect(func() { fired.Add(1) })

	assert.True(t, l.MarkDisconnected())
	assert.False(t, l.MarkDisconnected())
	assert.False(t, l.MarkDisconnected())

	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, l.IsDisconnected())
}

func TestLifecycleMultipleListenersAllFire(t *testing.T) {
	var l socket.Lifecycle
	var a, b atomic.Bool
	l.OnDisconnect(func() { a.Store(true) })
	l.OnDisconnect(func() { b.Store(true) })

	l.MarkDisconnected()

	assert.True(t, a.Load())
	assert.True(t, b.Load())
}

func TestOnDisconnectAfterFireRunsImmediately(t *testing.T) {
	var l socket.Lifecycle
	l.MarkDisconnected()

	fired := false
	l.OnDisconnect(func() { fired = true })
	assert.True(t, fired)
}
