package artifact

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Scope and key names used by the pipeline.
const (
	ScopePipeline = "pipeline"

	KeyTask         = "task"
	KeyReference    = "reference"
	KeyResearch     = "research"
	KeyDraft        = "draft"
	KeyReview       = "review"
	KeyRewriteCount = "rewrite_count"
)

// Store is the shared state arena for pipeline runs. Entries are addressed by
// (taskID, scope, key) and held as serialized JSON, so a reader always
// decodes a complete value written by a finished Put.
//
// Each task owns a shard with its own lock. Writers within one task+scope are
// serialized through a keyed mutex; readers of one task never wait on writers
// of another.
type Store struct {
	mu     sync.Mutex // Guards the shards map only
	shards map[string]*shard
	writes *keyedMutex
}

type shard struct {
	mu      sync.RWMutex
	entries map[entryKey][]byte
}

type entryKey struct {
	scope string
	key   string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		shards: make(map[string]*shard),
		writes: newKeyedMutex(),
	}
}

func (s *Store) shard(taskID string, create bool) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[taskID]
	if !ok && create {
		sh = &shard{entries: make(map[entryKey][]byte)}
		s.shards[taskID] = sh
	}
	return sh
}

func writerKey(taskID, scope string) string {
	return taskID + "\x00" + scope
}

// Put serializes value and makes it visible to every Get issued after Put
// returns. Concurrent Puts to the same task and scope apply in lock order.
func (s *Store) Put(taskID, scope, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize %s/%s for task %s: %w", scope, key, taskID, err)
	}

	wk := writerKey(taskID, scope)
	s.writes.Lock(wk)
	defer s.writes.Unlock(wk)

	sh := s.shard(taskID, true)
	sh.mu.Lock()
	sh.entries[entryKey{scope, key}] = data
	sh.mu.Unlock()
	return nil
}

// Get decodes the entry into dst. A missing entry returns false with a nil
// error; absence is for the caller to interpret.
func (s *Store) Get(taskID, scope, key string, dst any) (bool, error) {
	sh := s.shard(taskID, false)
	if sh == nil {
		return false, nil
	}

	sh.mu.RLock()
	data, ok := sh.entries[entryKey{scope, key}]
	sh.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("failed to decode %s/%s for task %s: %w", scope, key, taskID, err)
	}
	return true, nil
}

// Delete removes a single entry.
func (s *Store) Delete(taskID, scope, key string) {
	wk := writerKey(taskID, scope)
	s.writes.Lock(wk)
	defer s.writes.Unlock(wk)

	if sh := s.shard(taskID, false); sh != nil {
		sh.mu.Lock()
		delete(sh.entries, entryKey{scope, key})
		sh.mu.Unlock()
	}
}

// Discard drops every entry of a task. In-flight writers for the task's
// scopes finish before the shard is released.
func (s *Store) Discard(taskID string) {
	sh := s.shard(taskID, false)
	if sh == nil {
		return
	}

	sh.mu.RLock()
	scopes := make(map[string]struct{})
	for k := range sh.entries {
		scopes[k.scope] = struct{}{}
	}
	sh.mu.RUnlock()

	keys := make([]string, 0, len(scopes))
	for scope := range scopes {
		keys = append(keys, writerKey(taskID, scope))
	}
	s.writes.LockAll(keys)
	defer s.writes.UnlockAll(keys)

	s.mu.Lock()
	delete(s.shards, taskID)
	s.mu.Unlock()
}

// Keys lists the keys present for a task and scope.
func (s *Store) Keys(taskID, scope string) []string {
	sh := s.shard(taskID, false)
	if sh == nil {
		return nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	var keys []string
	for k := range sh.entries {
		if k.scope == scope {
			keys = append(keys, k.key)
		}
	}
	return sortedCopy(keys)
}
