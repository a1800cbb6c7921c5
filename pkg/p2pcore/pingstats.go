package p2pcore

import (
	"context"
	"time"
)

// PingResult holds the outcome of a single Ping call against a peer.
type PingResult struct {
	Seq    int
	Peer   PeerID
	RTT    time.Duration
	Error  string // empty on success
}

// PingStats holds aggregate statistics for a sequence of PingResults.
//
// Adapted from pkg/p2pnet/ping.go's PingStats/ComputePingStats: the
// aggregation logic is unchanged, rebased onto PingProvider/PingResult
// instead of that file's host-coupled PingPeer/doPing, since Node.Ping
// (node.go) already performs the actual ping exchange over ProtocolPing.
type PingStats struct {
	Sent     int
	Received int
	Lost     int
	LossPct  float64
	Min      time.Duration
	Avg      time.Duration
	Max      time.Duration
}

// ComputePingStats aggregates a slice of PingResults into a PingStats
// summary, matching the teacher's field semantics exactly.
func ComputePingStats(results []PingResult) PingStats {
	stats := PingStats{Sent: len(results)}
	if len(results) == 0 {
		return stats
	}

	var sum time.Duration
	first := true
	for _, r := range results {
		if r.Error != "" {
			stats.Lost++
			continue
		}
		stats.Received++
		sum += r.RTT
		if first {
			stats.Min, stats.Max = r.RTT, r.RTT
			first = false
		}
		if r.RTT < stats.Min {
			stats.Min = r.RTT
		}
		if r.RTT > stats.Max {
			stats.Max = r.RTT
		}
	}

	if stats.Received > 0 {
		stats.Avg = sum / time.Duration(stats.Received)
	}
	if stats.Sent > 0 {
		stats.LossPct = float64(stats.Lost) / float64(stats.Sent) * 100
	}
	return stats
}

// PingPeer sends count pings (or pings continuously if count is 0) to
// peer at the given interval using provider, delivering results on the
// returned channel, which closes when all pings are sent or ctx is
// cancelled.
func PingPeer(ctx context.Context, provider PingProvider, peer PeerID, count int, interval time.Duration) <-chan PingResult {
	ch := make(chan PingResult, 1)
	go func() {
		defer close(ch)
		seq := 0
		for {
			seq++
			if count > 0 && seq > count {
				return
			}

			result := PingResult{Seq: seq, Peer: peer}
			rtt, err := provider.Ping(ctx, peer)
			if err != nil {
				result.Error = err.Error()
			} else {
				result.RTT = rtt
			}

			select {
			case ch <- result:
			case <-ctx.Done():
				return
			}

			if count > 0 && seq >= count {
				return
			}
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
