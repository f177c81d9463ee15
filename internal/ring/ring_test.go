package ring

import (
	"sync"
	"testing"
	"time"
)

func newBuffer(t *testing.T) *Buffer[uint32] {
	t.Helper()
	b := &Buffer[uint32]{}
	if err := b.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newBuffer(t)

	if err := b.Put(42); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := b.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Get: expected 42, got %d", got)
	}
}

func TestFillToCapacityMinusOne(t *testing.T) {
	b := newBuffer(t)

	// Usable capacity is Capacity-1 = 9.
	for i := uint32(0); i < Capacity-1; i++ {
		if err := b.Put(i); err != nil {
			t.Fatalf("Put(%d) failed: %v", i, err)
		}
	}

	if err := b.Put(99); err != ErrBufferFull {
		t.Errorf("Put on full buffer: expected ErrBufferFull, got %v", err)
	}

	// Draining one slot must make Put succeed again.
	if _, err := b.Get(); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := b.Put(99); err != nil {
		t.Errorf("Put after drain: expected success, got %v", err)
	}
}

func TestFIFOOrdering(t *testing.T) {
	b := newBuffer(t)

	values := []uint32{1, 2, 3, 4, 5}
	for _, v := range values {
		if err := b.Put(v); err != nil {
			t.Fatalf("Put(%d) failed: %v", v, err)
		}
	}

	for _, want := range values {
		got, err := b.Get()
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != want {
			t.Errorf("Get: expected %d, got %d", want, got)
		}
	}
}

func TestGetBlocksUntilPut(t *testing.T) {
	b := newBuffer(t)

	var wg sync.WaitGroup
	wg.Add(1)

	resultCh := make(chan uint32, 1)
	go func() {
		defer wg.Done()
		v, err := b.Get()
		if err != nil {
			t.Errorf("Get failed: %v", err)
			return
		}
		resultCh <- v
	}()

	time.Sleep(10 * time.Millisecond) // give the goroutine time to block on Get
	if err := b.Put(7); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	wg.Wait()
	select {
	case got := <-resultCh:
		if got != 7 {
			t.Errorf("blocked Get: expected 7, got %d", got)
		}
	default:
		t.Fatal("blocked Get never returned a value")
	}
}

func TestGetSafeRoundTrip(t *testing.T) {
	b := newBuffer(t)

	if err := b.Put(7); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := b.GetSafe()
	if err != nil {
		t.Fatalf("GetSafe failed: %v", err)
	}
	if got != 7 {
		t.Errorf("GetSafe: expected 7, got %d", got)
	}
}

func TestEmpty(t *testing.T) {
	b := newBuffer(t)

	if !b.Empty() {
		t.Error("new buffer: expected Empty() == true")
	}

	if err := b.Put(1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if b.Empty() {
		t.Error("after Put: expected Empty() == false")
	}
}
