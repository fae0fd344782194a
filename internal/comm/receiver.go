package comm

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/utils"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrBind is returned when an inbound endpoint cannot listen on its address
var ErrBind = errors.New("failed to bind inbound endpoint")

// Receiver hosts an inbound endpoint and queues the messages posted to it
type Receiver struct {
	name     string
	queue    *utils.BlockingQueue[*models.Message]
	server   *grpc.Server
	endpoint string

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	loopWg  sync.WaitGroup
}

// NewReceiver creates a receiver delivering into queue
func NewReceiver(name string, queue *utils.BlockingQueue[*models.Message]) *Receiver {
	return &Receiver{name: name, queue: queue}
}

// CreateInboundEndpoint starts listening on the host and port of addr
func (r *Receiver) CreateInboundEndpoint(addr string) error {
	ep, err := models.ParseEndpoint(addr)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ep.Address())
	if err != nil {
		return errors.Wrapf(ErrBind, "%s: %v", addr, err)
	}
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		ep.Port = strconv.Itoa(tcpAddr.Port)
	}
	r.endpoint = ep.String()

	r.server = grpc.NewServer()
	RegisterCommunicatorServer(r.server, &receiverService{r})
	r.wg.Go(func() {
		if err := r.server.Serve(lis); err != nil {
			log.Warnf("[Receiver] %s: server stopped: %v", r.name, err)
		}
	})
	log.Infof("[Receiver] %s listening on %s", r.name, r.endpoint)
	return nil
}

// Endpoint returns the bound endpoint address
func (r *Receiver) Endpoint() string {
	return r.endpoint
}

// Enqueue adds msg to the inbound queue
func (r *Receiver) Enqueue(msg *models.Message) {
	r.queue.Enqueue(msg)
}

// GetMessage blocks until a message is available and returns it
func (r *Receiver) GetMessage() *models.Message {
	return r.queue.Dequeue()
}

// Start runs handle on every received message until the quit sentinel is dequeued
func (r *Receiver) Start(handle func(*models.Message)) {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	r.loopWg.Go(func() {
		for {
			msg := r.GetMessage()
			if msg.IsQuit() {
				log.Infof("[Receiver] %s: received quit", r.name)
				return
			}
			handle(msg)
		}
	})
}

// Wait blocks until the processing loop started by Start returns
func (r *Receiver) Wait() {
	r.loopWg.Wait()
}

// Close stops the inbound endpoint and the processing loop
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.running {
		r.running = false
		r.queue.Enqueue(models.MakeQuitMessage(r.endpoint, r.endpoint))
	}
	r.mu.Unlock()
	if r.server != nil {
		r.server.Stop()
	}
	r.wg.Wait()
	r.loopWg.Wait()
}

type receiverService struct {
	r *Receiver
}

// PostMessage queues a message received from a peer
func (s *receiverService) PostMessage(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	msg, err := models.MessageFromStruct(in)
	if err != nil {
		log.Warnf("[Receiver] %s: discarding malformed message: %v", s.r.name, err)
		return &emptypb.Empty{}, nil
	}
	log.Debugf("[Receiver] %s: received %s from %s", s.r.name, msg.Type, msg.From)
	s.r.Enqueue(msg)
	return &emptypb.Empty{}, nil
}
