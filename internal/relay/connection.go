package relay

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// RelayReport summarizes a completed relayed circuit's data-plane copy,
// per spec §4.7.
type RelayReport struct {
	TotalBytes  uint64
	ClosedEarly bool
}

// copyBufferSize matches go-libp2p's own relay buffer size.
const copyBufferSize = 4096

// RelayBoth joins a and b with two concurrent copy loops until either
// side closes, the circuit's duration limit elapses, or the data limit
// is reached. It always closes both streams before returning.
func RelayBoth(a, b p2pcore.MuxedStream, limit CircuitLimit) RelayReport {
	ctx := context.Background()
	var cancel context.CancelFunc
	if limit.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, limit.Duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var total uint64
	var remaining int64 = -1
	if limit.Data > 0 {
		remaining = int64(limit.Data)
	}

	done := make(chan struct{}, 2)
	go copyLimited(a, b, &total, &remaining, done)
	go copyLimited(b, a, &total, &remaining, done)

	select {
	case <-done:
	case <-ctx.Done():
	}

	a.Close()
	b.Close()
	<-done

	return RelayReport{TotalBytes: atomic.LoadUint64(&total)}
}

// copyLimited copies from src to dst, tracking bytes against the shared
// total and remaining-data budget (remaining < 0 means unbounded). It
// signals done exactly once when it returns, regardless of the reason.
func copyLimited(dst io.Writer, src io.Reader, total *uint64, remaining *int64, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, copyBufferSize)
	for {
		if atomic.LoadInt64(remaining) == 0 {
			return
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if r := atomic.LoadInt64(remaining); r >= 0 && int64(n) > r {
				n = int(r)
			}
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
				atomic.AddUint64(total, uint64(n))
				if r := atomic.LoadInt64(remaining); r >= 0 {
					atomic.AddInt64(remaining, -int64(n))
				}
			}
		}
		if rerr != nil {
			return
		}
	}
}
