package comm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/utils"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// ErrDeliveryFailed is reported when a message is dropped after exhausting its attempts
var ErrDeliveryFailed = errors.New("message delivery failed")

// Conn is an established connection to one peer endpoint
type Conn interface {
	Post(ctx context.Context, msg *models.Message) error
	Close() error
}

// Dialer opens a connection to endpoint
type Dialer func(endpoint string) (Conn, error)

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithMaxAttempts sets the number of delivery attempts per message
func WithMaxAttempts(n int) SenderOption {
	return func(s *Sender) { s.maxAttempts = n }
}

// WithRetryDelay sets the fixed delay between delivery attempts
func WithRetryDelay(d time.Duration) SenderOption {
	return func(s *Sender) { s.retryDelay = d }
}

// WithCallTimeout bounds a single delivery attempt
func WithCallTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.callTimeout = d }
}

// WithDialer replaces the gRPC transport
func WithDialer(d Dialer) SenderOption {
	return func(s *Sender) { s.dial = d }
}

// SenderOptions returns the options matching the comm config
func SenderOptions(cfg config.CommConfig) []SenderOption {
	return []SenderOption{
		WithMaxAttempts(cfg.MaxAttempts),
		WithRetryDelay(cfg.RetryDelay),
		WithCallTimeout(cfg.CallTimeout),
	}
}

// Sender delivers posted messages in order from a background worker
type Sender struct {
	name        string
	queue       *utils.BlockingQueue[*models.Message]
	dial        Dialer
	maxAttempts int
	retryDelay  time.Duration
	callTimeout time.Duration

	// Retry state, owned by the delivery routine
	conn     Conn
	endpoint string

	attempts  atomic.Int64
	dropped   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSender creates a sender and starts its delivery routine
func NewSender(name string, opts ...SenderOption) *Sender {
	s := &Sender{
		name:        name,
		queue:       utils.CreateBlockingQueue[*models.Message](),
		dial:        DialGRPC,
		maxAttempts: 10,
		retryDelay:  100 * time.Millisecond,
		callTimeout: 2 * time.Second,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	go s.deliveryRoutine()
	return s
}

// PostMessage queues msg for delivery to msg.To
func (s *Sender) PostMessage(msg *models.Message) {
	if msg == nil {
		return
	}
	if s.closed.Load() {
		log.Warnf("[Sender] %s: closed, dropping message to %s", s.name, msg.To)
		return
	}
	s.queue.Enqueue(msg)
}

// Attempts returns the number of delivery attempts made so far
func (s *Sender) Attempts() int64 {
	return s.attempts.Load()
}

// Dropped returns the number of messages dropped after exhausting their attempts
func (s *Sender) Dropped() int64 {
	return s.dropped.Load()
}

// Close delivers the messages already queued, then stops the delivery routine
func (s *Sender) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.queue.Enqueue(nil)
	})
	<-s.done
}

// deliveryRoutine sends queued messages one at a time until the stop marker
func (s *Sender) deliveryRoutine() {
	defer close(s.done)
	for {
		msg := s.queue.Dequeue()
		if msg == nil {
			s.resetConn()
			return
		}
		s.deliver(msg)
	}
}

// deliver retries msg with a fixed delay and drops it once the attempts run out
func (s *Sender) deliver(msg *models.Message) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.attempts.Add(1)
		err := s.tryDeliver(msg)
		if err == nil {
			log.Debugf("[Sender] %s: delivered %s to %s", s.name, msg.Type, msg.To)
			return
		}
		log.Warnf("[Sender] %s: attempt %d/%d to %s failed: %v", s.name, attempt, s.maxAttempts, msg.To, err)
		if attempt < s.maxAttempts {
			time.Sleep(s.retryDelay)
		}
	}
	s.dropped.Add(1)
	log.Error(errors.Wrapf(ErrDeliveryFailed, "[Sender] %s: dropped %s to %s after %d attempts", s.name, msg.Type, msg.To, s.maxAttempts))
	s.resetConn()
}

func (s *Sender) tryDeliver(msg *models.Message) error {
	if s.conn == nil || s.endpoint != msg.To {
		s.resetConn()
		conn, err := s.dial(msg.To)
		if err != nil {
			return err
		}
		s.conn = conn
		s.endpoint = msg.To
		log.Debugf("[Sender] %s: connected to %s", s.name, msg.To)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	return s.conn.Post(ctx, msg)
}

// resetConn closes and forgets the cached connection
func (s *Sender) resetConn() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Debugf("[Sender] %s: closing connection to %s: %v", s.name, s.endpoint, err)
		}
	}
	s.conn = nil
	s.endpoint = ""
}

type grpcConn struct {
	conn   *grpc.ClientConn
	client CommunicatorClient
}

// DialGRPC connects to the Communicator service at endpoint
func DialGRPC(endpoint string) (Conn, error) {
	ep, err := models.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	conn, err := utils.Connect(ep.Address())
	if err != nil {
		return nil, err
	}
	return &grpcConn{conn: conn, client: NewCommunicatorClient(conn)}, nil
}

func (c *grpcConn) Post(ctx context.Context, msg *models.Message) error {
	s, err := msg.ToStruct()
	if err != nil {
		return err
	}
	_, err = c.client.PostMessage(ctx, s)
	return err
}

func (c *grpcConn) Close() error {
	return c.conn.Close()
}
