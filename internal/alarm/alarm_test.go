package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFire(t *testing.T, s *Scheduler) Fire {
	t.Helper()
	select {
	case f := <-s.Fires():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alarm fire")
		return Fire{}
	}
}

func TestScheduleFires(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	at := time.Now().Add(20 * time.Millisecond)
	s.Schedule("sessionEnd", at)
	require.True(t, s.Pending("sessionEnd"))

	f := waitFire(t, s)
	assert.Equal(t, "sessionEnd", f.Name)
	assert.Equal(t, at, f.At)
	assert.False(t, s.Pending("sessionEnd"))
}

func TestScheduleInPastFiresImmediately(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	s.Schedule("recovery", time.Now().Add(-time.Minute))
	f := waitFire(t, s)
	assert.Equal(t, "recovery", f.Name)
}

func TestRescheduleDedupesByName(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	// The first schedule is replaced before it can fire; only one intent
	// for the name must be delivered.
	s.Schedule("breakEnd", time.Now().Add(30*time.Millisecond))
	s.Schedule("breakEnd", time.Now().Add(60*time.Millisecond))

	f := waitFire(t, s)
	assert.Equal(t, "breakEnd", f.Name)

	select {
	case extra := <-s.Fires():
		t.Fatalf("duplicate fire delivered: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestClearPreventsFire(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	s.Schedule("syncRetry", time.Now().Add(50*time.Millisecond))
	s.Clear("syncRetry")
	assert.False(t, s.Pending("syncRetry"))

	select {
	case f := <-s.Fires():
		t.Fatalf("cleared alarm fired: %+v", f)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestClearAll(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	s.Schedule("a", time.Now().Add(time.Hour))
	s.Schedule("b", time.Now().Add(time.Hour))
	s.ClearAll()
	assert.False(t, s.Pending("a"))
	assert.False(t, s.Pending("b"))
}

func TestIndependentAlarms(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	s.Schedule("first", time.Now().Add(10*time.Millisecond))
	s.Schedule("second", time.Now().Add(30*time.Millisecond))

	f1 := waitFire(t, s)
	f2 := waitFire(t, s)
	assert.Equal(t, "first", f1.Name)
	assert.Equal(t, "second", f2.Name)
}

func TestFireUnblocksOnStopWithFullBuffer(t *testing.T) {
	s := NewScheduler()
	for i := 0; i < cap(s.fires); i++ {
		s.fires <- Fire{Name: "fill"}
	}

	returned := make(chan struct{})
	go func() {
		s.fire("stuck", time.Now())
		close(returned)
	}()

	// Let the goroutine reach the send before stopping.
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("fire still blocked after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewScheduler()
	s.Stop()
	s.Stop()
}
