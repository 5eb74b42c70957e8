package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPastCallbackFiresImmediatelyOnEnable(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	fired := make(chan Kind, 1)
	d.Add(func(h Handle, tt time.Time, kind Kind, arg any) {
		fired <- kind
	}, time.Now().Add(-time.Second), nil)

	d.Enable()

	select {
	case k := <-fired:
		assert.Equal(t, KindTimeout, k)
	case <-time.After(time.Second):
		t.Fatal("past-due callback never fired")
	}
}

func TestFutureCallbackFiresAfterDelay(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	start := time.Now()
	fired := make(chan time.Time, 1)
	d.Add(func(h Handle, tt time.Time, kind Kind, arg any) {
		fired <- time.Now()
	}, start.Add(150*time.Millisecond), nil)
	d.Enable()

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 140*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("future callback never fired")
	}
}

func TestDisableBeforeFirePreventsCallback(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	fired := make(chan struct{}, 1)
	d.Add(func(h Handle, tt time.Time, kind Kind, arg any) {
		fired <- struct{}{}
	}, time.Now().Add(2*time.Second), nil)
	d.Enable()
	d.Disable()

	select {
	case <-fired:
		t.Fatal("callback fired despite being disabled first")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEnableDisableReturnOnlyOnTransition(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	assert.True(t, d.Enable())
	assert.False(t, d.Enable())
	assert.True(t, d.Disable())
	assert.False(t, d.Disable())
}

func TestRemoveAlreadyFiredIsNoop(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	fired := make(chan struct{}, 1)
	h := d.Add(func(Handle, time.Time, Kind, any) { fired <- struct{}{} }, time.Now().Add(-time.Millisecond), nil)
	d.Enable()
	<-fired

	d.Remove(h) // no-op, must not panic or double-invoke
}

func TestRemovePendingFiresDeleteKind(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	var gotKind Kind
	var mu sync.Mutex
	h := d.Add(func(handle Handle, tt time.Time, kind Kind, arg any) {
		mu.Lock()
		gotKind = kind
		mu.Unlock()
	}, time.Now().Add(time.Hour), nil)
	d.Enable()
	d.Remove(h)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, KindDelete, gotKind)
}

func TestFreeFiresRemainingCallbacksOnceEach(t *testing.T) {
	d := New(NewTimerQueue())

	var mu sync.Mutex
	kinds := make(map[Handle]int)
	for i := 0; i < 5; i++ {
		h := d.Add(func(handle Handle, tt time.Time, kind Kind, arg any) {
			mu.Lock()
			kinds[handle]++
			mu.Unlock()
		}, time.Now().Add(time.Hour), nil)
		_ = h
	}
	d.Enable()
	d.Free()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, kinds, 5)
	for _, count := range kinds {
		assert.Equal(t, 1, count)
	}
}

func TestTwoDispatchersIndependentOnFree(t *testing.T) {
	d1 := New(NewTimerQueue())
	d2 := New(NewTimerQueue())
	defer d2.Free()

	var mu sync.Mutex
	d1Fired, d2Fired := 0, 0
	for i := 0; i < 3; i++ {
		d1.Add(func(Handle, time.Time, Kind, any) {
			mu.Lock()
			d1Fired++
			mu.Unlock()
		}, time.Now().Add(time.Hour), nil)
	}
	for i := 0; i < 2; i++ {
		d2.Add(func(Handle, time.Time, Kind, any) {
			mu.Lock()
			d2Fired++
			mu.Unlock()
		}, time.Now().Add(time.Hour), nil)
	}
	d1.Enable()
	d2.Enable()

	d1.Free()

	mu.Lock()
	assert.Equal(t, 3, d1Fired)
	assert.Equal(t, 0, d2Fired)
	mu.Unlock()
}

func TestTschedFloorsToCheckInterval(t *testing.T) {
	now := time.Now()
	got := tsched(now.Add(time.Hour), now)
	assert.Equal(t, now.Add(CheckInterval), got)
}

func TestTschedFiresImmediatelyWhenDue(t *testing.T) {
	now := time.Now()
	got := tsched(now.Add(-time.Second), now)
	assert.Equal(t, now, got)
}

func TestCallbackCanReenterDispatcherWithoutDeadlock(t *testing.T) {
	d := New(NewTimerQueue())
	defer d.Free()

	done := make(chan struct{})
	var second Handle
	d.Add(func(h Handle, tt time.Time, kind Kind, arg any) {
		second = d.Add(func(Handle, time.Time, Kind, any) {
			close(done)
		}, time.Now().Add(-time.Millisecond), nil)
	}, time.Now().Add(-time.Millisecond), nil)
	d.Enable()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Add from within a callback deadlocked")
	}
	require.NotZero(t, second)
}
