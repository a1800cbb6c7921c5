package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

type fakePinger struct {
	mu      sync.Mutex
	fail    map[p2pcore.PeerID]bool
	calls   int32
}

func (f *fakePinger) Ping(ctx context.Context, peer p2pcore.PeerID) (time.Duration, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[peer] {
		return 0, errors.New("unreachable")
	}
	return time.Millisecond, nil
}

func TestHealthMonitor_FailureThresholdTriggersCallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	pinger := &fakePinger{fail: map[p2pcore.PeerID]bool{"A": true}}
	var failedPeer p2pcore.PeerID
	done := make(chan struct{})

	hm := NewHealthMonitor(pinger, HealthOptions{
		Interval:    50 * time.Millisecond,
		Timeout:     50 * time.Millisecond,
		MaxFailures: 2,
	}, nil, func(p p2pcore.PeerID) {
		failedPeer = p
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.StartMonitoring(ctx, "A", true)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for health check failure callback")
	}
	if failedPeer != "A" {
		t.Fatalf("expected failure for peer A, got %q", failedPeer)
	}
	hm.Close()
}

func TestHealthMonitor_SuccessResetsFailureCount(t *testing.T) {
	defer goleak.VerifyNone(t)

	pinger := &fakePinger{fail: map[p2pcore.PeerID]bool{}}
	hm := NewHealthMonitor(pinger, HealthOptions{
		Interval:    20 * time.Millisecond,
		Timeout:     20 * time.Millisecond,
		MaxFailures: 1,
	}, nil, func(p p2pcore.PeerID) {
		t.Fatalf("did not expect failure callback for always-succeeding peer")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.StartMonitoring(ctx, "A", true)
	// The loop ticks once a second, so wait past the first tick for at
	// least one probe to run.
	time.Sleep(1500 * time.Millisecond)
	if atomic.LoadInt32(&pinger.calls) == 0 {
		t.Fatal("expected at least one probe to have run")
	}
	hm.mu.Lock()
	failures := hm.failures["A"]
	hm.mu.Unlock()
	if failures != 0 {
		t.Fatalf("expected failure count 0 after successful probes, got %d", failures)
	}
	hm.StopMonitoring("A")
	hm.Close()
}

func TestHealthMonitor_StopRemovesState(t *testing.T) {
	defer goleak.VerifyNone(t)
	pinger := &fakePinger{}
	hm := NewHealthMonitor(pinger, DefaultHealthOptions(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.StartMonitoring(ctx, "A", false)
	hm.StopMonitoring("A")
	hm.mu.Lock()
	_, tracked := hm.next["A"]
	hm.mu.Unlock()
	if tracked {
		t.Fatal("expected peer state removed after StopMonitoring")
	}
	hm.Close()
}
