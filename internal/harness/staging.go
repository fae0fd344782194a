package harness

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// makeKey names the staging directory and result record of a request.
// The sequence number keeps keys distinct when the clock does not move between calls.
func (h *TestHarness) makeKey(author string, worker int) string {
	stamp := strings.ReplaceAll(time.Now().Format("1_2_2006_15_04_05.000000"), ".", "_")
	return fmt.Sprintf("%s_%s_Worker%d_%d", sanitizeAuthor(author), stamp, worker, h.seq.Add(1))
}

func sanitizeAuthor(author string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(author))
	if s == "" {
		return "anonymous"
	}
	return s
}

// stage downloads every artifact named by the request into its staging directory.
// Artifacts that cannot be fetched are logged and left out.
func (h *TestHarness) stage(ctx context.Context, req *request) error {
	if err := os.MkdirAll(req.dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create staging directory %s", req.dir)
	}
	for _, name := range models.ArtifactNames(req.units) {
		if _, err := h.artifacts.DownloadTo(ctx, name, req.dir); err != nil {
			log.Warnf("[TestHarness] %s: could not stage %s: %v", req.key, name, err)
		}
	}
	return nil
}

func (h *TestHarness) removeStaging(req *request) {
	if err := os.RemoveAll(req.dir); err != nil {
		log.Warnf("[TestHarness] %s: failed to remove staging directory: %v", req.key, err)
	}
}
