package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_DrainsEverythingInPushOrder(t *testing.T) {
	var notified atomic.Int32
	m := NewMailbox(func() { notified.Add(1) })
	for i := 1; i <= 3; i++ {
		m.Push(eventAt(VirtualTime(i), 0, uint64(i)))
	}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, int32(3), notified.Load())

	var got []VirtualTime
	for e := m.TryPop(); e != nil; e = e.Next() {
		got = append(got, e.Time())
	}
	assert.Equal(t, []VirtualTime{1, 2, 3}, got)
	assert.Zero(t, m.Len())
	assert.Equal(t, int64(3), m.Total(), "total counts every push ever made")
	assert.Nil(t, m.TryPop())
}

func TestMailbox_BlockingPopWakesOnPushAndClose(t *testing.T) {
	m := NewMailbox(nil)
	got := make(chan bool, 2)
	go func() {
		for {
			_, ok := m.BlockingPop()
			got <- ok
			if !ok {
				return
			}
		}
	}()

	m.Push(eventAt(1, 0, 1))
	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("BlockingPop did not wake on push")
	}

	m.Close()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("BlockingPop did not wake on close")
	}
}

func TestMailbox_ConcurrentProducers(t *testing.T) {
	m := NewMailbox(nil)
	const producers, each = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				m.Push(eventAt(VirtualTime(i), uint32(p), uint64(i)))
			}
		}()
	}
	wg.Wait()

	// per-producer order is preserved
	last := make(map[uint32]VirtualTime)
	n := 0
	for e := m.TryPop(); e != nil; e = e.Next() {
		prev, seen := last[e.Stamp().Owner]
		if seen {
			require.Greater(t, e.Time(), prev)
		}
		last[e.Stamp().Owner] = e.Time()
		n++
	}
	assert.Equal(t, producers*each, n)
}
