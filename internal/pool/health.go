package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// HealthMonitor is the single-threaded cooperative actor from spec §4.4:
// a 1-second tick drives a map of peer -> next-check-time, probing due
// peers in parallel via a PingProvider raced against a timeout.
//
// Grounded on pkg/p2pnet/peermanager.go's probeLoop (ticker + bounded
// per-tick work) and internal/watchdog/watchdog.go's ticker-loop-over-
// named-checks shape, combined with pathdialer.go's "race a worker
// against sleep(timeout), first wins" idiom for each individual probe.
type HealthMonitor struct {
	ping     p2pcore.PingProvider
	timeout  time.Duration
	interval time.Duration
	maxFail  int
	onFail   func(p2pcore.PeerID)
	events   *p2pcore.Broadcaster
	log      *slog.Logger

	mu       sync.Mutex
	next     map[p2pcore.PeerID]time.Time
	failures map[p2pcore.PeerID]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	running bool
}

// HealthOptions configures a HealthMonitor; zero values fall back to the spec
// §6 production defaults.
type HealthOptions struct {
	Interval         time.Duration
	Timeout          time.Duration
	MaxFailures      int
	CheckImmediately bool
}

func DefaultHealthOptions() HealthOptions {
	return HealthOptions{
		Interval:    p2pcore.DefaultHealthInterval,
		Timeout:     p2pcore.DefaultHealthTimeout,
		MaxFailures: p2pcore.DefaultHealthMaxFailures,
	}
}

// NewHealthMonitor constructs a HealthMonitor. onFail is invoked
// (outside any lock) when a peer's consecutive-failure count reaches
// maxFailures; its counter is reset at that point.
func NewHealthMonitor(ping p2pcore.PingProvider, opts HealthOptions, events *p2pcore.Broadcaster, onFail func(p2pcore.PeerID)) *HealthMonitor {
	if opts.Interval <= 0 {
		opts.Interval = p2pcore.DefaultHealthInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = p2pcore.DefaultHealthTimeout
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = p2pcore.DefaultHealthMaxFailures
	}
	return &HealthMonitor{
		ping:     ping,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		maxFail:  opts.MaxFailures,
		onFail:   onFail,
		events:   events,
		log:      slog.With("component", "health-monitor"),
		next:     make(map[p2pcore.PeerID]time.Time),
		failures: make(map[p2pcore.PeerID]int),
	}
}

// StartMonitoring begins tracking peer. If checkImmediately, the first
// probe fires on the next tick rather than after a full interval. The
// background loop is lazily started on first call.
func (h *HealthMonitor) StartMonitoring(ctx context.Context, peer p2pcore.PeerID, checkImmediately bool) {
	h.mu.Lock()
	now := time.Now()
	if checkImmediately {
		h.next[peer] = now
	} else {
		h.next[peer] = now.Add(h.interval)
	}
	needsStart := !h.running
	if needsStart {
		h.running = true
		h.ctx, h.cancel = context.WithCancel(ctx)
	}
	h.mu.Unlock()

	if needsStart {
		h.wg.Add(1)
		go h.loop()
	}
}

// StopMonitoring removes peer from tracking; if no peers remain, the
// background loop is cancelled.
func (h *HealthMonitor) StopMonitoring(peer p2pcore.PeerID) {
	h.mu.Lock()
	delete(h.next, peer)
	delete(h.failures, peer)
	empty := len(h.next) == 0
	cancel := h.cancel
	running := h.running
	if empty && running {
		h.running = false
	}
	h.mu.Unlock()

	if empty && running && cancel != nil {
		cancel()
	}
}

// Close stops the loop unconditionally, for node shutdown.
func (h *HealthMonitor) Close() {
	h.mu.Lock()
	cancel := h.cancel
	h.running = false
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

func (h *HealthMonitor) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthMonitor) tick() {
	now := time.Now()
	h.mu.Lock()
	var due []p2pcore.PeerID
	for peer, at := range h.next {
		if !at.After(now) {
			due = append(due, peer)
		}
	}
	h.mu.Unlock()
	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, peer := range due {
		wg.Add(1)
		go func(peer p2pcore.PeerID) {
			defer wg.Done()
			h.probe(peer)
		}(peer)
	}
	wg.Wait()
}

func (h *HealthMonitor) probe(peer p2pcore.PeerID) {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	type result struct {
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		_, err := h.ping.Ping(ctx, peer)
		select {
		case resultCh <- result{err: err}:
		case <-ctx.Done():
		}
	}()

	var probeErr error
	select {
	case r := <-resultCh:
		probeErr = r.err
	case <-ctx.Done():
		probeErr = ctx.Err()
	}

	h.mu.Lock()
	if _, tracked := h.next[peer]; !tracked {
		h.mu.Unlock()
		return
	}
	h.next[peer] = time.Now().Add(h.interval)

	var shouldFail bool
	if probeErr == nil {
		h.failures[peer] = 0
	} else {
		h.failures[peer]++
		if h.failures[peer] >= h.maxFail {
			h.failures[peer] = 0
			shouldFail = true
		}
	}
	h.mu.Unlock()

	if shouldFail {
		h.log.Warn("health check failed", "peer", peer.String())
		if h.events != nil {
			h.events.EmitKind(p2pcore.EventHealthCheckFailed, map[string]any{"peer": peer})
		}
		if h.onFail != nil {
			h.onFail(peer)
		}
	}
}
