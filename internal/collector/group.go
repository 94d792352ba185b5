package collector

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// grouper implements pipeline step 6 (spec §4.3): "photos/receipts whose
// modification times cluster within a 60s window and share a path prefix
// are assigned a common group_id". It keeps a short rolling window of
// recently-seen files in memory; entries older than the window are dropped
// on the next assign call so memory stays bounded regardless of scan volume.
type grouper struct {
	mu     sync.Mutex
	window time.Duration
	recent []groupedFile
}

type groupedFile struct {
	prefix  string
	mtime   time.Time
	groupID string
}

func newGrouper(window time.Duration) *grouper {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &grouper{window: window}
}

// assign returns the group_id path should join: an existing one if another
// file under the same directory was seen within the window, otherwise a
// freshly minted id.
func (g *grouper) assign(path string, mtime time.Time) string {
	prefix := filepath.Dir(path)

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.recent[:0]
	var groupID string
	for _, rf := range g.recent {
		diff := mtime.Sub(rf.mtime)
		if diff < 0 {
			diff = -diff
		}
		if diff > g.window {
			continue // outside the clustering window, drop
		}
		kept = append(kept, rf)
		if groupID == "" && rf.prefix == prefix {
			groupID = rf.groupID
		}
	}
	g.recent = kept

	if groupID == "" {
		groupID = uuid.NewString()
	}
	g.recent = append(g.recent, groupedFile{prefix: prefix, mtime: mtime, groupID: groupID})
	return groupID
}
