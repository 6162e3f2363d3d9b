package pipeline

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aristath/blogflow/internal/artifact"
)

// Snapshot statuses.
const (
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// Snapshot is the latest observable state of a run.
type Snapshot struct {
	TaskID       string             `json:"task_id"`
	Step         int                `json:"step"`
	StepName     string             `json:"step_name"`
	Status       string             `json:"status"`
	Message      string             `json:"message"`
	Preview      string             `json:"preview,omitempty"`
	Research     *artifact.Research `json:"research,omitempty"`
	Draft        *artifact.Draft    `json:"draft,omitempty"`
	Review       *artifact.Review   `json:"review,omitempty"`
	Error        string             `json:"error,omitempty"`
	RewriteCount int                `json:"rewrite_count"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type progressEntry struct {
	snapshot Snapshot
	storedAt time.Time
	ttl      time.Duration
}

// DefaultProgressTTL is how long a snapshot stays readable.
const DefaultProgressTTL = time.Hour

const progressCapacity = 4096

// ProgressCache holds one snapshot per task and forgets it after its TTL.
type ProgressCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, progressEntry]
	now   func() time.Time
}

// NewProgressCache creates a cache bounded to a few thousand tasks.
func NewProgressCache() *ProgressCache {
	c, err := lru.New[string, progressEntry](progressCapacity)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &ProgressCache{cache: c, now: time.Now}
}

// Set replaces the snapshot for taskID.
func (p *ProgressCache) Set(taskID string, s Snapshot, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	s.TaskID = taskID
	s.UpdatedAt = now
	p.cache.Add(taskID, progressEntry{snapshot: s, storedAt: now, ttl: ttl})
}

// Get returns the snapshot for taskID. Expired snapshots are removed and
// reported as absent.
func (p *ProgressCache) Get(taskID string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache.Get(taskID)
	if !ok {
		return Snapshot{}, false
	}
	if p.now().Sub(e.storedAt) >= e.ttl {
		p.cache.Remove(taskID)
		return Snapshot{}, false
	}
	return e.snapshot, true
}

// Delete forgets taskID.
func (p *ProgressCache) Delete(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(taskID)
}
