package signal

import (
	"sync"
	"testing"
)

func TestEmitInSubscriptionOrder(t *testing.T) {
	t.Parallel()
	var s Signal[int]
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		s.Connect(func(int) { order = append(order, i) })
	}

	s.Emit(0)

	for i, v := range order {
		if v != i {
			t.Fatalf("observers fired out of order: %v", order)
		}
	}
}

func TestDisconnectDuringEmit(t *testing.T) {
	t.Parallel()
	var s Signal[int]
	var fired []string

	var id2 int
	s.Connect(func(int) { fired = append(fired, "a") })
	id2 = s.Connect(func(int) {
		fired = append(fired, "b")
		s.Disconnect(id2)
	})
	s.Connect(func(int) { fired = append(fired, "c") })

	s.Emit(0)
	if len(fired) != 3 {
		t.Fatalf("expected all 3 observers to fire on the emit where b disconnects itself, got %v", fired)
	}

	fired = nil
	s.Emit(0)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "c" {
		t.Fatalf("expected b removed after self-disconnect, got %v", fired)
	}
}

func TestDisconnectUnknownIDIsNoop(t *testing.T) {
	t.Parallel()
	var s Signal[int]
	s.Connect(func(int) {})
	s.Disconnect(9999)
	if s.Len() != 1 {
		t.Fatalf("expected listener count unaffected, got %d", s.Len())
	}
}

func TestConcurrentEmitAndConnect(t *testing.T) {
	t.Parallel()
	var s Signal[int]
	var mu sync.Mutex
	count := 0
	s.Connect(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Emit(0)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 50 {
		t.Fatalf("expected 50 emits to reach the observer, got %d", count)
	}
}
