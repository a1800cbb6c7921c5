package plumtree

import (
	"sync"
	"testing"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

func TestLazyPushBuffer_FlushesAfterDelay(t *testing.T) {
	var mu sync.Mutex
	var got []IHaveEntry
	b := NewLazyPushBuffer(20*time.Millisecond, 10, 100, func(peer p2pcore.PeerID, entries []IHaveEntry) {
		mu.Lock()
		got = append(got, entries...)
		mu.Unlock()
	})
	b.Add("P", IHaveEntry{Topic: "t", ID: "1"})
	b.Add("P", IHaveEntry{Topic: "t", ID: "2"})

	deadline := time.After(1 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delayed flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLazyPushBuffer_FlushesImmediatelyAtBatchCap(t *testing.T) {
	var mu sync.Mutex
	flushed := false
	b := NewLazyPushBuffer(time.Hour, 2, 100, func(peer p2pcore.PeerID, entries []IHaveEntry) {
		mu.Lock()
		flushed = true
		mu.Unlock()
	})
	b.Add("P", IHaveEntry{Topic: "t", ID: "1"})
	b.Add("P", IHaveEntry{Topic: "t", ID: "2"})

	deadline := time.After(1 * time.Second)
	for {
		mu.Lock()
		f := flushed
		mu.Unlock()
		if f {
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected immediate flush at batch cap, long delay was configured")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLazyPushBuffer_ForgetDropsPending(t *testing.T) {
	b := NewLazyPushBuffer(10*time.Millisecond, 10, 100, func(p2pcore.PeerID, []IHaveEntry) {
		t.Fatal("flush should not run after Forget")
	})
	b.Add("P", IHaveEntry{Topic: "t", ID: "1"})
	b.Forget("P")
	time.Sleep(50 * time.Millisecond)
}
