// Package acker: PositionAcker persists a cumulative acknowledged offset per
// upstream source to disk, adapted from the teacher's file-position
// tracker (pkg/positions/file_positions.go) but scoped down to exactly the
// sinkcore.Acker capability: there is no file-rotation, inode, or checkpoint
// bookkeeping here, since this lives outside the sink core and only needs
// to answer "how many events at the head of the buffer are now free to
// drop."
package acker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "ssw-egress-sink/pkg/errors"
)

// position is the persisted state for a single source key.
type position struct {
	Acked      uint64    `json:"acked"`
	LastUpdate time.Time `json:"last_update"`
}

// PositionAcker is a sinkcore.Acker that tracks, per source key, the
// cumulative count of events the sink core has confirmed terminal and
// writes that count to a JSON file on every Ack so a restarted upstream
// reader can resume past exactly the events already acknowledged.
type PositionAcker struct {
	mu        sync.Mutex
	key       string
	pos       position
	path      string
	logger    *logrus.Logger
	dirty     bool
	lastFlush time.Time
}

// NewPositionAcker constructs a PositionAcker for source key, persisting
// into positionsDir/<key>.json. If a prior position file exists it is
// loaded so Ack counts continue from where the last process left off.
func NewPositionAcker(positionsDir, key string, logger *logrus.Logger) (*PositionAcker, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(positionsDir, 0o755); err != nil {
		return nil, apperrors.ResourceError("acker.new", "create positions dir").Wrap(err)
	}

	pa := &PositionAcker{
		key:       key,
		path:      filepath.Join(positionsDir, key+".json"),
		logger:    logger,
		lastFlush: time.Now(),
	}
	if err := pa.load(); err != nil {
		return nil, err
	}
	return pa, nil
}

func (pa *PositionAcker) load() error {
	data, err := os.ReadFile(pa.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperrors.ResourceError("acker.load", "read position file "+pa.path).Wrap(err)
	}
	var p position
	if err := json.Unmarshal(data, &p); err != nil {
		return apperrors.ProcessingError("acker.load", "parse position file "+pa.path).Wrap(err)
	}
	pa.pos = p
	return nil
}

// Ack implements sinkcore.Acker: n more events at the head of the upstream
// buffer for this source have reached terminal status.
func (pa *PositionAcker) Ack(n uint64) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	pa.pos.Acked += n
	pa.pos.LastUpdate = time.Now()
	pa.dirty = true

	if err := pa.flushLocked(); err != nil {
		pa.logger.WithError(err).WithField("key", pa.key).Warn("acker: failed to persist position")
	}
}

// Acked returns the cumulative acknowledged count for this source.
func (pa *PositionAcker) Acked() uint64 {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return pa.pos.Acked
}

// flushLocked must be called with pa.mu held.
func (pa *PositionAcker) flushLocked() error {
	if !pa.dirty {
		return nil
	}
	data, err := json.Marshal(pa.pos)
	if err != nil {
		return apperrors.ProcessingError("acker.flush", "marshal position").Wrap(err)
	}
	tmp := pa.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.ResourceError("acker.flush", "write position file").Wrap(err)
	}
	if err := os.Rename(tmp, pa.path); err != nil {
		return apperrors.ResourceError("acker.flush", "rename position file").Wrap(err)
	}
	pa.dirty = false
	pa.lastFlush = time.Now()
	return nil
}
