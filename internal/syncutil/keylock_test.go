package syncutil

import (
	"sync"
	"testing"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	var locks KeyLock
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("user-1:device-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100 increments, got %d", counter)
	}
}

func TestKeyLockManyKeys(t *testing.T) {
	var locks KeyLock

	// Far more keys than shards; every acquire must still pair cleanly
	// with its release.
	for i := 0; i < 1000; i++ {
		unlock := locks.Lock(string(rune('a'+i%26)) + "-key")
		unlock()
	}
}
