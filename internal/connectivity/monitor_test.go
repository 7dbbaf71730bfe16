package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSetEmitsOnTransitionsOnly(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, time.Second)
	ch := m.Changes()

	m.Set(true)
	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	var got []bool
	for {
		select {
		case v := <-ch:
			got = append(got, v)
			continue
		default:
		}
		break
	}
	want := []bool{true, false, true}
	if len(got) != len(want) {
		t.Fatalf("emissions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emissions = %v, want %v", got, want)
		}
	}
}

func TestInitialStateIsOffline(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, time.Second)
	if m.Online() {
		t.Fatal("monitor should start offline until first probe")
	}
}

func TestCheckNowUpdatesState(t *testing.T) {
	var fail atomic.Bool
	m := New(func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("no route")
		}
		return nil
	}, time.Second)

	if !m.CheckNow(context.Background()) || !m.Online() {
		t.Fatal("probe success should mark online")
	}
	fail.Store(true)
	if m.CheckNow(context.Background()) || m.Online() {
		t.Fatal("probe failure should mark offline")
	}
}

func TestStartPollsUntilStopped(t *testing.T) {
	var calls atomic.Int64
	m := New(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond)

	m.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("probe called %d times, want at least 3", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()
	if !m.Online() {
		t.Fatal("monitor should be online after successful probes")
	}

	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != settled {
		t.Fatal("probe still running after Stop")
	}
}

func TestSlowSubscriberDoesNotBlockSet(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, time.Second)
	m.Changes() // never read

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			m.Set(i%2 == 0)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on a slow subscriber")
	}
}
