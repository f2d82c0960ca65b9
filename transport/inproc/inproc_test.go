package inproc_test

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/transport/inproc"
)

func uniqueEndpoint(t *testing.T) endpoint.Endpoint {
	return endpoint.New(endpoint.Inproc, "local", 0, fmt.Sprintf("/%s/%d", t.Name(), time.Now().UnixNano()))
}

func TestConnectBeforeBindFails(t *testing.T) {
	ep := uniqueEndpoint(t)
	_, err := inproc.Connect(context.Background(), ep)
	assert.ErrorIs(t, err, inproc.ErrNotBound)
}

func TestBindAcceptConnectExchangesBytes(t *testing.T) {
	ep := uniqueEndpoint(t)
	l, err := inproc.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		clientSock, err := inproc.Connect(context.Background(), ep)
		require.NoError(t, err)
		_, err = clientSock.Write([]byte("ping"))
		require.NoError(t, err)

		buf := make([]byte, 4)
		n, err := clientSock.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "pong", string(buf[:n]))
	}()

	serverSock, err := l.Accept(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := serverSock.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_, err = serverSock.Write([]byte("pong"))
	require.NoError(t, err)

	<-clientDone
}

func TestDoubleBindFails(t *testing.T) {
	ep := uniqueEndpoint(t)
	l, err := inproc.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	_, err = inproc.Bind(ep)
	assert.ErrorIs(t, err, inproc.ErrAlreadyBound)
}

func TestDisconnectUnblocksPeerRead(t *testing.T) {
	ep := uniqueEndpoint(t)
	l, err := inproc.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	clientSock, err := inproc.Connect(context.Background(), ep)
	require.NoError(t, err)
	serverSock, err := l.Accept(context.Background())
	require.NoError(t, err)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 16)
		n, err := serverSock.Read(buf)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 0, n)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, clientSock.Disconnect())

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("peer read did not unblock")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ep := uniqueEndpoint(t)
	l, err := inproc.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	clientSock, err := inproc.Connect(context.Background(), ep)
	require.NoError(t, err)

	var fired atomic.Int32
	clientSock.OnDisconnect(func() { fired.Add(1) })

	for i := 0; i < 5; i++ {
		require.NoError(t, clientSock.Disconnect())
	}
	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, clientSock.IsDisconnected())
}

func TestOnDisconnectAfterTheFactFiresImmediately(t *testing.T) {
	ep := uniqueEndpoint(t)
	l, err := inproc.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	clientSock, err := inproc.Connect(context.Background(), ep)
	require.NoError(t, err)
	require.NoError(t, clientSock.Disconnect())

	fired := false
	clientSock.OnDisconnect(func() { fired = true })
	assert.True(t, fired)
}
