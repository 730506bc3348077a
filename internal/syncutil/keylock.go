// Package syncutil provides small concurrency helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// KeyLock serializes work per string key using a fixed pool of mutexes.
// Memory stays bounded no matter how many keys are seen; keys hashing to
// the same shard contend with each other, which is acceptable for the
// short read-modify-write sections it guards.
type KeyLock struct {
	shards [128]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (k *KeyLock) Lock(key string) func() {
	mu := &k.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 128
}
