package app

import (
	"sync"
	"testing"
	"time"
)

func TestAccountLocker_OppositeOrderDoesNotDeadlock(t *testing.T) {
	locker := newAccountLocker()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(1, 2)
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := locker.Lock(2, 1)
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("lockers deadlocked")
	}
	if locker.size() != 0 {
		t.Fatalf("expected all entries released, got %d", locker.size())
	}
}

func TestAccountLocker_SerializesSameAccount(t *testing.T) {
	locker := newAccountLocker()
	unlock := locker.Lock(5)

	acquired := make(chan struct{})
	go func() {
		release := locker.Lock(5, 6)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatalf("second holder acquired account 5 while it was locked")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second holder never acquired the lock")
	}
}

func TestAccountLocker_DuplicateNumbersLockOnce(t *testing.T) {
	locker := newAccountLocker()
	unlock := locker.Lock(3, 3)
	if locker.size() != 1 {
		t.Fatalf("expected one entry, got %d", locker.size())
	}
	unlock()
	if locker.size() != 0 {
		t.Fatalf("expected entry released, got %d", locker.size())
	}
}
