package comm

import (
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/utils"
)

// Comm is the receiver and sender pair of one peer
type Comm struct {
	Name     string
	Receiver *Receiver
	Sender   *Sender
}

// CreateComm binds the peer's inbound endpoint and starts its sender
func CreateComm(name, endpoint string, opts ...SenderOption) (*Comm, error) {
	queue := utils.CreateBlockingQueue[*models.Message]()
	rcvr := NewReceiver(name, queue)
	if err := rcvr.CreateInboundEndpoint(endpoint); err != nil {
		return nil, err
	}
	return &Comm{
		Name:     name,
		Receiver: rcvr,
		Sender:   NewSender(name, opts...),
	}, nil
}

// Endpoint returns the address peers post to
func (c *Comm) Endpoint() string {
	return c.Receiver.Endpoint()
}

// PostMessage hands msg to the sender
func (c *Comm) PostMessage(msg *models.Message) {
	c.Sender.PostMessage(msg)
}

// GetMessage blocks until a message is received
func (c *Comm) GetMessage() *models.Message {
	return c.Receiver.GetMessage()
}

// Close flushes the sender and stops the receiver
func (c *Comm) Close() {
	c.Sender.Close()
	c.Receiver.Close()
}
