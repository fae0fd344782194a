package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/mavleo96/remote-test-harness/internal/comm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/transfer"
	log "github.com/sirupsen/logrus"
)

// Name is the author and client name of repository replies
const Name = "Repository"

// Repository is the content store peer: a stream endpoint for files and a message endpoint for queries
type Repository struct {
	store  *Store
	comm   *comm.Comm
	stream *transfer.Server
}

// CreateRepository opens the store and starts the stream endpoint
func CreateRepository(cfg config.RepositoryConfig, blockSize int, c *comm.Comm) (*Repository, error) {
	store, err := CreateStore(cfg.StorageDir, cfg.Catalog)
	if err != nil {
		return nil, err
	}
	stream := transfer.CreateServer(cfg.StorageDir, blockSize)
	stream.OnUpload = func(name string, size int64) {
		if err := store.Index(name, size); err != nil {
			log.Errorf("[Repository] %v", err)
		}
	}
	if err := stream.Listen(cfg.StreamAddress); err != nil {
		store.Close()
		return nil, err
	}
	return &Repository{store: store, comm: c, stream: stream}, nil
}

// Store returns the underlying content store
func (r *Repository) Store() *Store {
	return r.store
}

// StreamEndpoint returns the address of the file stream service
func (r *Repository) StreamEndpoint() string {
	return r.stream.Endpoint()
}

// Start answers query messages until quit is received
func (r *Repository) Start() {
	r.comm.Receiver.Start(r.handle)
}

// Wait blocks until the query loop has received quit
func (r *Repository) Wait() {
	r.comm.Receiver.Wait()
}

// Close stops the stream endpoint and the store
func (r *Repository) Close() {
	r.stream.Close()
	if err := r.store.Close(); err != nil {
		log.Warnf("[Repository] closing catalog: %v", err)
	}
}

func (r *Repository) handle(msg *models.Message) {
	if msg.Type != models.QueryType {
		log.Warnf("[Repository] ignoring %s message from %s", msg.Type, msg.From)
		return
	}
	hits, err := r.store.Query(msg.Body)
	if err != nil {
		log.Errorf("[Repository] query %q: %v", msg.Body, err)
	}
	log.Infof("[Repository] query %q from %s: %d results", msg.Body, msg.From, len(hits))
	r.comm.PostMessage(&models.Message{
		ID:         uuid.NewString(),
		ReplyTo:    msg.ID,
		Type:       models.QueryResultsType,
		To:         msg.From,
		From:       r.comm.Endpoint(),
		Author:     Name,
		Time:       time.Now(),
		Body:       msg.Body,
		ClientName: Name,
		ToName:     msg.ClientName,
		Files:      hits,
	})
}
