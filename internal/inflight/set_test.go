package inflight_test

import (
	"sync"
	"testing"

	"taxwire/internal/inflight"
)

func TestAddIsCheckAndInsert(t *testing.T) {
	set := inflight.NewSet()
	if !set.Add("batch-1") {
		t.Fatal("first Add should succeed")
	}
	if set.Add("batch-1") {
		t.Fatal("second Add of same key should report existing membership")
	}
	if !set.Contains("batch-1") {
		t.Fatal("expected membership after Add")
	}

	set.Remove("batch-1")
	if set.Contains("batch-1") {
		t.Fatal("expected key gone after Remove")
	}
	if !set.Add("batch-1") {
		t.Fatal("Add after Remove should succeed")
	}
}

func TestConcurrentAddAdmitsExactlyOne(t *testing.T) {
	set := inflight.NewSet()
	const attempts = 64

	var wg sync.WaitGroup
	admitted := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Add("contested") {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful Add, got %d", count)
	}
	if set.Len() != 1 {
		t.Fatalf("expected single member, got %d", set.Len())
	}
}
