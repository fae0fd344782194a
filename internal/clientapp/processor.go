package clientapp

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const resultTimeout = 60 * time.Second

// ProcessTestSet uploads the artifacts of set, submits it and waits for its results
func (c *Client) ProcessTestSet(ctx context.Context, set *TestSet) (*Outcome, error) {
	artifacts := set.Artifacts()
	sent := c.UploadArtifacts(ctx, artifacts)
	log.Infof("[Client] set %d: uploaded %d of %d artifacts", set.SetNumber, sent, len(artifacts))

	id, err := c.Submit(set)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, resultTimeout)
	defer cancel()
	results, logs, err := c.AwaitResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Outcome{SetNumber: set.SetNumber, Results: results, LogFiles: logs}, nil
}
