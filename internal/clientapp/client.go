package clientapp

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/mavleo96/remote-test-harness/internal/comm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/transfer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const replyBuffer = 16

// Client is the requester peer: it uploads artifacts, submits test requests and queries logs
type Client struct {
	cfg        config.ClientConfig
	harness    string
	repository string

	comm  *comm.Comm
	files *transfer.Client

	results chan *models.Message
	queries chan *models.Message
	wg      sync.WaitGroup
}

// CreateClient creates a client talking to the harness and repository endpoints of cfg
func CreateClient(cfg *config.Config, c *comm.Comm, files *transfer.Client) *Client {
	return &Client{
		cfg:        cfg.Client,
		harness:    cfg.Harness.Endpoint,
		repository: cfg.Repository.Endpoint,
		comm:       c,
		files:      files,
		results:    make(chan *models.Message, replyBuffer),
		queries:    make(chan *models.Message, replyBuffer),
	}
}

// Start routes replies to the waiting calls until quit is received
func (c *Client) Start() {
	c.wg.Go(c.routerRoutine)
}

// Stop ends the router routine and waits for it
func (c *Client) Stop() {
	ep := c.comm.Endpoint()
	c.comm.Receiver.Enqueue(models.MakeQuitMessage(ep, ep))
	c.wg.Wait()
}

func (c *Client) routerRoutine() {
	for {
		msg := c.comm.GetMessage()
		if msg.IsQuit() {
			log.Infof("[Client] received quit")
			return
		}
		switch msg.Type {
		case models.TestResultsType:
			deliver(c.results, msg)
		case models.QueryResultsType:
			deliver(c.queries, msg)
		default:
			log.Warnf("[Client] ignoring %s message from %s", msg.Type, msg.From)
		}
	}
}

// deliver hands msg to a waiting call, dropping it when nobody keeps up
func deliver(ch chan *models.Message, msg *models.Message) {
	select {
	case ch <- msg:
	default:
		log.Warnf("[Client] dropping %s reply from %s: too many unclaimed replies", msg.Type, msg.From)
	}
}

// await returns the next reply on ch answering the message with id; stale replies are discarded
func await(ctx context.Context, ch chan *models.Message, id string) (*models.Message, error) {
	for {
		select {
		case msg := <-ch:
			if msg.ReplyTo == id {
				return msg, nil
			}
			log.Warnf("[Client] discarding stale %s reply to %s", msg.Type, msg.ReplyTo)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// UploadArtifacts sends the named files from the upload directory to the repository.
// Files that cannot be sent are logged and skipped; the number sent is returned.
func (c *Client) UploadArtifacts(ctx context.Context, names []string) int {
	sent := 0
	for _, name := range names {
		path := filepath.Join(c.cfg.UploadDir, name)
		if _, err := c.files.UploadFile(ctx, path); err != nil {
			log.Warnf("[Client] could not upload %s: %v", name, err)
			continue
		}
		sent++
	}
	return sent
}

// Submit posts the test set as a request to the harness and returns the request id
func (c *Client) Submit(set *TestSet) (string, error) {
	req := &models.TestRequest{Author: c.cfg.Author, Tests: set.Tests}
	body, err := req.Body()
	if err != nil {
		return "", err
	}
	msg := models.MakeTestRequest(c.cfg.Author, c.comm.Endpoint(), c.harness, body)
	msg.ClientName = c.cfg.Name
	msg.ToName = "TestHarness"
	log.Infof("[Client] submitting set %d with %d tests", set.SetNumber, len(set.Tests))
	c.comm.PostMessage(msg)
	return msg.ID, nil
}

// AwaitResults waits for the results of the request with id
func (c *Client) AwaitResults(ctx context.Context, id string) (*models.TestResultSet, []string, error) {
	msg, err := await(ctx, c.results, id)
	if err != nil {
		return nil, nil, errors.Wrap(err, "no results from the harness")
	}
	set, err := models.ParseTestResults(msg.Body)
	if err != nil {
		return nil, nil, err
	}
	return set, msg.Files, nil
}

// QueryLogs asks the repository for the records containing text
func (c *Client) QueryLogs(ctx context.Context, text string) ([]string, error) {
	query := models.MakeQueryMessage(c.cfg.Author, c.cfg.Name, c.comm.Endpoint(), c.repository, text)
	c.comm.PostMessage(query)
	msg, err := await(ctx, c.queries, query.ID)
	if err != nil {
		return nil, errors.Wrap(err, "no reply from the repository")
	}
	return msg.Files, nil
}
