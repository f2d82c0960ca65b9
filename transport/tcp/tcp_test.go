package tcp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/transport/tcp"
)

func TestBindAcceptConnectExchangesBytes(t *testing.T) {
	ep := endpoint.New(endpoint.Tcp, "127.0.0.1", 0, "/")
	l, err := tcp.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	boundAddr := l.Addr()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		serverSock, err := l.Accept(context.Background())
		require.NoError(t, err)
		buf := make([]byte, 4)
		n, err := serverSock.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf[:n]))
		_, err = serverSock.Write([]byte("pong"))
		require.NoError(t, err)
	}()

	clientSock, err := tcp.Connect(context.Background(), boundAddr)
	require.NoError(t, err)
	_, err = clientSock.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := clientSock.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	<-acceptDone
}

func TestReadContextDeadlineExceeded(t *testing.T) {
	ep := endpoint.New(endpoint.Tcp, "127.0.0.1", 0, "/")
	l, err := tcp.Bind(ep)
	require.NoError(t, err)
	defer l.Unbind()

	boundAddr := l.Addr()
	go func() {
		_, _ = l.Accept(context.Background())
	}()

	clientSock, err := tcp.Connect(context.Background(), boundAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	buf := make([]byte, 4)
	_, err = clientSock.ReadContext(ctx, buf)
	assert.Error(t, err)
}
