package utils

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestKeySetNoDuplicates(t *testing.T) {
	s := NewKeySet()

	added := s.Add("outland|https://outland.no/p/1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("outland|https://outland.no/p/1")
	if added {
		t.Error("second Add of same key should return false")
	}

	if !s.Add("spillhjornet|https://outland.no/p/1") {
		t.Error("same link on another website should be a new key")
	}
}

func TestKeySetConcurrency(t *testing.T) {
	s := NewKeySet()
	var added int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add("outland|https://outland.no/p/same") {
				atomic.AddInt64(&added, 1)
			}
		}()
	}
	wg.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}
