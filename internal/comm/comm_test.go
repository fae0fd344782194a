package comm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const localEndpoint = "http://127.0.0.1:0/ICommunicator"

type fakeTransport struct {
	mu        sync.Mutex
	dials     []string
	delivered []*models.Message
	down      map[string]bool
}

type fakeConn struct {
	endpoint string
	t        *fakeTransport
}

func newFakeTransport(down ...string) *fakeTransport {
	t := &fakeTransport{down: make(map[string]bool)}
	for _, ep := range down {
		t.down[ep] = true
	}
	return t
}

func (t *fakeTransport) dial(endpoint string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials = append(t.dials, endpoint)
	return &fakeConn{endpoint: endpoint, t: t}, nil
}

func (c *fakeConn) Post(ctx context.Context, msg *models.Message) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if c.t.down[c.endpoint] {
		return errors.Errorf("%s unreachable", c.endpoint)
	}
	c.t.delivered = append(c.t.delivered, msg)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func message(to, body string) *models.Message {
	msg := models.NewMessage(body)
	msg.To = to
	return msg
}

func TestSenderRetryBound(t *testing.T) {
	transport := newFakeTransport("down")
	s := NewSender("test", WithDialer(transport.dial), WithMaxAttempts(10), WithRetryDelay(time.Millisecond))

	s.PostMessage(message("down", "first"))
	s.PostMessage(message("down", "second"))
	s.Close()

	require.Equal(t, int64(20), s.Attempts())
	require.Equal(t, int64(2), s.Dropped())
	require.Empty(t, transport.delivered)
	// the cached connection is cleared after each drop
	require.Equal(t, []string{"down", "down"}, transport.dials)
}

func TestSenderRecoversAfterDrop(t *testing.T) {
	transport := newFakeTransport("down")
	s := NewSender("test", WithDialer(transport.dial), WithMaxAttempts(3), WithRetryDelay(time.Millisecond))

	s.PostMessage(message("down", "lost"))
	s.PostMessage(message("up", "kept"))
	s.Close()

	require.Equal(t, int64(4), s.Attempts())
	require.Equal(t, int64(1), s.Dropped())
	require.Len(t, transport.delivered, 1)
	require.Equal(t, "kept", transport.delivered[0].Body)
}

func TestSenderReconnectsOnEndpointChange(t *testing.T) {
	transport := newFakeTransport()
	s := NewSender("test", WithDialer(transport.dial))

	for _, to := range []string{"a", "a", "b", "b", "a"} {
		s.PostMessage(message(to, to))
	}
	s.Close()

	require.Equal(t, []string{"a", "b", "a"}, transport.dials)
	require.Len(t, transport.delivered, 5)
	require.Equal(t, int64(5), s.Attempts())
}

func TestSenderDropsAfterClose(t *testing.T) {
	transport := newFakeTransport()
	s := NewSender("test", WithDialer(transport.dial))
	s.Close()
	s.PostMessage(message("a", "late"))
	s.Close()

	require.Empty(t, transport.delivered)
}

func TestFIFOPerDestination(t *testing.T) {
	rcvr := NewReceiver("receiver", utils.CreateBlockingQueue[*models.Message]())
	require.NoError(t, rcvr.CreateInboundEndpoint(localEndpoint))
	defer rcvr.Close()

	s := NewSender("sender", WithRetryDelay(10*time.Millisecond))
	defer s.Close()

	const n = 50
	for i := range n {
		s.PostMessage(message(rcvr.Endpoint(), fmt.Sprintf("msg-%d", i)))
	}
	for i := range n {
		msg := rcvr.GetMessage()
		require.Equal(t, fmt.Sprintf("msg-%d", i), msg.Body)
		require.Equal(t, rcvr.Endpoint(), msg.To)
	}
}

func TestBindError(t *testing.T) {
	first := NewReceiver("first", utils.CreateBlockingQueue[*models.Message]())
	require.NoError(t, first.CreateInboundEndpoint(localEndpoint))
	defer first.Close()

	second := NewReceiver("second", utils.CreateBlockingQueue[*models.Message]())
	err := second.CreateInboundEndpoint(first.Endpoint())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBind))
}

func TestReceiverStopsOnQuit(t *testing.T) {
	queue := utils.CreateBlockingQueue[*models.Message]()
	rcvr := NewReceiver("receiver", queue)

	var mu sync.Mutex
	var handled []string
	rcvr.Enqueue(models.NewMessage("one"))
	rcvr.Enqueue(models.NewMessage("two"))
	rcvr.Enqueue(models.NewMessage(models.QuitBody))
	rcvr.Enqueue(models.NewMessage("after"))

	rcvr.Start(func(msg *models.Message) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, msg.Body)
	})
	rcvr.Wait()

	require.Equal(t, []string{"one", "two"}, handled)
	require.Equal(t, 1, queue.Len())
}

func TestCommRoundTrip(t *testing.T) {
	a, err := CreateComm("a", localEndpoint)
	require.NoError(t, err)
	defer a.Close()
	b, err := CreateComm("b", localEndpoint)
	require.NoError(t, err)
	defer b.Close()

	msg := models.MakeTestRequest("Fawcett", a.Endpoint(), b.Endpoint(), "<testRequest/>")
	msg.Files = []string{"td1.go"}
	a.PostMessage(msg)

	got := b.GetMessage()
	require.Equal(t, msg.Body, got.Body)
	require.Equal(t, a.Endpoint(), got.From)
	require.Equal(t, msg.Files, got.Files)
}
