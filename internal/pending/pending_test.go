package pending

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestAddTake(t *testing.T) {
	x := New()
	x.Add("http://x/aGET")
	x.Add("http://x/aGET")
	if x.Len() != 1 {
		t.Fatalf("expected set semantics, got len %d", x.Len())
	}
	if !x.Contains("http://x/aGET") {
		t.Fatalf("expected key present")
	}
	if !x.Take("http://x/aGET") {
		t.Fatalf("expected first take to win")
	}
	if x.Take("http://x/aGET") {
		t.Fatalf("expected second take to miss")
	}
}

func TestConcurrentTakeSingleWinner(t *testing.T) {
	x := New()
	x.Add("k")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if x.Take("k") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
