package scheduler

import (
	"sync"

	"github.com/google/uuid"
)

const registryShards = 32

// registry is a sharded concurrent map of live tasks keyed by id.
type registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Task
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i].items = make(map[uuid.UUID]*Task)
	}
	return r
}

// FNV-1a over the id bytes.
func shardIndex(id uuid.UUID) uint32 {
	const (
		basis = uint32(2166136261)
		prime = uint32(16777619)
	)
	h := basis
	for _, b := range id {
		h ^= uint32(b)
		h *= prime
	}
	return h % registryShards
}

func (r *registry) shard(id uuid.UUID) *registryShard {
	return &r.shards[shardIndex(id)]
}

// put inserts t unless a task with the same id is present.
func (r *registry) put(t *Task) bool {
	sh := r.shard(t.id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[t.id]; ok {
		return false
	}
	sh.items[t.id] = t
	return true
}

func (r *registry) get(id uuid.UUID) (*Task, bool) {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	t, ok := sh.items[id]
	return t, ok
}

// remove reports whether this call removed the task.
func (r *registry) remove(id uuid.UUID) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; !ok {
		return false
	}
	delete(sh.items, id)
	return true
}

func (r *registry) len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// snapshot copies the live tasks. No shard lock is held once it returns, so
// callers may run payloads or submit while iterating the result.
func (r *registry) snapshot() []*Task {
	out := make([]*Task, 0, 16)
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, t := range sh.items {
			out = append(out, t)
		}
		sh.mu.Unlock()
	}
	return out
}
