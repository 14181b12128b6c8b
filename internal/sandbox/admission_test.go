package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdmission_AcquireRelease(t *testing.T) {
	a := NewAdmission(2, 0, nil)

	r1, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	r2, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if _, err := a.Acquire(context.Background()); !errors.Is(err, ErrCapacity) {
		t.Errorf("third Acquire err = %v, want ErrCapacity", err)
	}

	r1()
	r3, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	r2()
	r3()
}

func TestAdmission_QueueTimeout(t *testing.T) {
	a := NewAdmission(1, 50*time.Millisecond, nil)
	release, _ := a.Acquire(context.Background())
	defer release()

	start := time.Now()
	_, err := a.Acquire(context.Background())
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("gave up after %s, expected to wait for the queue timeout", elapsed)
	}
}

func TestAdmission_QueuedCallerGetsSlot(t *testing.T) {
	a := NewAdmission(1, 2*time.Second, nil)
	release, _ := a.Acquire(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	r, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("queued Acquire: %v", err)
	}
	r()
}

func TestAdmission_CallerCancel(t *testing.T) {
	a := NewAdmission(1, time.Minute, nil)
	release, _ := a.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := a.Acquire(ctx)
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
}
