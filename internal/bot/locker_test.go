package bot

import (
	"sync"
	"testing"
)

func TestSymbolLocker_SerializesSameSymbol(t *testing.T) {
	l := NewSymbolLocker()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("SOLUSDT")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0 after release", l.Len())
	}
}

func TestSymbolLocker_TryLock(t *testing.T) {
	l := NewSymbolLocker()
	unlock := l.Lock("SOLUSDT")

	if _, ok := l.TryLock("SOLUSDT"); ok {
		t.Fatal("TryLock must fail while held")
	}
	other, ok := l.TryLock("XRPUSDT")
	if !ok {
		t.Fatal("different symbols must not block each other")
	}
	other()
	unlock()

	again, ok := l.TryLock("SOLUSDT")
	if !ok {
		t.Fatal("TryLock must succeed after release")
	}
	again()
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}
