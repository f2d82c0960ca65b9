package recvloop_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/frame"
	"github.com/wireq/wireq/message"
	"github.com/wireq/wireq/recvloop"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/transport/inproc"
)

func uniqueEndpoint(t *testing.T) endpoint.Endpoint {
	return endpoint.New(endpoint.Inproc, "local", 0, fmt.Sprintf("/%s/%d", t.Name(), time.Now().UnixNano()))
}

func connectPair(t *testing.T, ep endpoint.Endpoint) (client socket.Socket, server socket.Socket) {
	t.Helper()
	l, err := inproc.Bind(ep)
	require.NoError(t, err)
	t.Cleanup(l.Unbind)

	serverCh := make(chan socket.Socket, 1)
	go func() {
		s, acceptErr := l.Accept(context.Background())
		require.NoError(t, acceptErr)
		serverCh <- s
	}()

	client, err = inproc.Connect(context.Background(), ep)
	require.NoError(t, err)
	server = <-serverCh
	return client, server
}

type echoMsg struct {
	ID      uint16
	Payload string
}

func (e echoMsg) TypeID() uint16 { return e.ID }

func echoDecoder(id uint16) message.Decoder {
	return func(raw []byte) (message.Message, error) {
		return echoMsg{ID: id, Payload: string(raw)}, nil
	}
}

func TestLoopDeliversDecodedMessages(t *testing.T) {
	ep := uniqueEndpoint(t)
	client, server := connectPair(t, ep)

	reg := message.NewRegistry()
	reg.Register(7, echoDecoder(7))

	received := make(chan message.Message, 4)
	loop := recvloop.New(server, reg, recvloop.Callbacks{
		MessageReceived: func(m message.Message) { received <- m },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	w := frame.NewWriter(nil)
	require.NoError(t, w.Write(client, frame.New(7, []byte("hello"))))

	select {
	case m := <-received:
		assert.Equal(t, echoMsg{ID: 7, Payload: "hello"}, m)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestLoopReportsUnknownTypeAsDeserializationError(t *testing.T) {
	ep := uniqueEndpoint(t)
	client, server := connectPair(t, ep)

	reg := message.NewRegistry()

	errCh := make(chan error, 1)
	loop := recvloop.New(server, reg, recvloop.Callbacks{
		MessageDeserializationError: func(err error) { errCh <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	w := frame.NewWriter(nil)
	require.NoError(t, w.Write(client, frame.New(99, []byte("x"))))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, message.ErrUnknownType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deserialization error")
	}

	assert.Eventually(t, server.IsDisconnected, time.Second, 5*time.Millisecond)
}

func TestLoopReportsSocketErrorOnPeerDisconnect(t *testing.T) {
	ep := uniqueEndpoint(t)
	client, server := connectPair(t, ep)

	reg := message.NewRegistry()

	errCh := make(chan error, 1)
	loop := recvloop.New(server, reg, recvloop.Callbacks{
		SocketError: func(err error) { errCh <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	require.NoError(t, client.Disconnect())

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for socket error")
	}
}

func TestStopIsIdempotentAndUnblocksLoop(t *testing.T) {
	ep := uniqueEndpoint(t)
	_, server := connectPair(t, ep)

	reg := message.NewRegistry()
	loop := recvloop.New(server, reg, recvloop.Callbacks{})

	loop.Start(context.Background())
	loop.Stop()
	loop.Stop()
}
