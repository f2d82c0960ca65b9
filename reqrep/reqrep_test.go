package reqrep_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/message"
	"github.com/wireq/wireq/reqrep"
	"github.com/wireq/wireq/responder"
)

func uniqueEndpoint(t *testing.T) endpoint.Endpoint {
	return endpoint.New(endpoint.Inproc, "local", 0, fmt.Sprintf("/%s/%d", t.Name(), time.Now().UnixNano()))
}

type echoMsg struct {
	ID      uint16
	Payload string
}

func (e echoMsg) TypeID() uint16 { return e.ID }

func newRegistry() *message.Registry {
	reg := message.NewRegistry()
	reg.Register(1, func(raw []byte) (message.Message, error) {
		return echoMsg{ID: 1, Payload: string(raw)}, nil
	})
	return reg
}

func encodeEcho(m message.Message) (uint16, []byte, error) {
	em := m.(echoMsg)
	return em.ID, []byte(em.Payload), nil
}

// S6: Requester <-> Responder with a factory returning the request
// verbatim; Request(m) completes within 1s returning m.
func TestS6RequestReplyEchoesVerbatim(t *testing.T) {
	ep := uniqueEndpoint(t)

	factory := func(request message.Message) (message.Message, error) {
		return request, nil
	}
	r := responder.New(newRegistry(), factory, encodeEcho, responder.Options{MinThreads: 1, MaxThreads: 4})
	defer r.Close()
	require.NoError(t, r.Bind(ep))

	requester := reqrep.New(newRegistry(), encodeEcho)
	require.NoError(t, requester.Connect(context.Background(), ep))
	defer requester.Disconnect(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := requester.Request(ctx, echoMsg{ID: 1, Payload: "hello"})
	require.NoError(t, err)
	assert.Equal(t, echoMsg{ID: 1, Payload: "hello"}, reply)
}

func TestRequestSerializesCalls(t *testing.T) {
	ep := uniqueEndpoint(t)

	factory := func(request message.Message) (message.Message, error) {
		return request, nil
	}
	r := responder.New(newRegistry(), factory, encodeEcho, responder.Options{})
	defer r.Close()
	require.NoError(t, r.Bind(ep))

	requester := reqrep.New(newRegistry(), encodeEcho)
	require.NoError(t, requester.Connect(context.Background(), ep))
	defer requester.Disconnect(false)

	for i := 0; i < 10; i++ {
		reply, err := requester.Request(context.Background(), echoMsg{ID: 1, Payload: fmt.Sprintf("msg-%d", i)})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), reply.(echoMsg).Payload)
	}
}

func TestDisconnectWaitForExitCancelsInFlightRequest(t *testing.T) {
	ep := uniqueEndpoint(t)

	unblock := make(chan struct{})
	blockFactory := func(request message.Message) (message.Message, error) {
		<-unblock // never responds on its own; Disconnect(true) must cancel the request instead
		return request, nil
	}
	r := responder.New(newRegistry(), blockFactory, encodeEcho, responder.Options{})
	require.NoError(t, r.Bind(ep))
	defer func() {
		close(unblock)
		r.Close()
	}()

	requester := reqrep.New(newRegistry(), encodeEcho)
	require.NoError(t, requester.Connect(context.Background(), ep))

	requestDone := make(chan error, 1)
	go func() {
		_, err := requester.Request(context.Background(), echoMsg{ID: 1, Payload: "x"})
		requestDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, requester.Disconnect(true))

	select {
	case err := <-requestDone:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Disconnect(waitForExit=true) did not unblock the in-flight request")
	}
}
