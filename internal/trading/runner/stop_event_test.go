package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStopEvent_Monotonic(t *testing.T) {
	e := NewStopEvent()
	assert.False(t, e.IsSet())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Set()
		}()
	}
	wg.Wait()

	assert.True(t, e.IsSet())
	e.Set()
	assert.True(t, e.IsSet())
	assert.True(t, e.Wait(context.Background(), time.Hour))
}

func TestStopEvent_WaitTimesOut(t *testing.T) {
	e := NewStopEvent()
	start := time.Now()
	assert.False(t, e.Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, e.Wait(context.Background(), 0))
}

func TestStopEvent_WaitWakesOnSet(t *testing.T) {
	e := NewStopEvent()
	go func() {
		time.Sleep(10 * time.Millisecond)
		e.Set()
	}()

	start := time.Now()
	assert.True(t, e.Wait(context.Background(), time.Minute))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStopEvent_WaitHonoursContext(t *testing.T) {
	e := NewStopEvent()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, e.Wait(ctx, time.Minute))
	select {
	case <-e.Done():
		t.Fatal("event must stay unset")
	default:
	}
}
