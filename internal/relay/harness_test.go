package relay

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// pipeStream is a minimal in-memory p2pcore.MuxedStream backed by a pair
// of io.Pipes, used to drive relay/client/server logic in tests without a
// real libp2p host.
type pipeStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	remote p2pcore.PeerID

	closeOnce sync.Once
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *pipeStream) Close() error {
	s.closeOnce.Do(func() {
		s.r.Close()
		s.w.Close()
	})
	return nil
}

func (s *pipeStream) CloseWrite() error { return s.w.Close() }
func (s *pipeStream) RemotePeer() p2pcore.PeerID { return s.remote }
func (s *pipeStream) SetDeadline(time.Time) error { return nil }

func (s *pipeStream) WriteMessage(b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := s.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := s.w.Write(b)
	return err
}

func (s *pipeStream) ReadMessage(maxSize int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int(n) > maxSize {
		return nil, p2pcore.ErrMessageTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func newPipePair(a, b p2pcore.PeerID) (*pipeStream, *pipeStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	sa := &pipeStream{r: r2, w: w1, remote: b}
	sb := &pipeStream{r: r1, w: w2, remote: a}
	return sa, sb
}

// fakeNetwork routes NewStream calls to the registered handler for the
// destination peer and protocol, connecting the two ends with a
// pipeStream pair.
type fakeNetwork struct {
	mu       sync.Mutex
	handlers map[p2pcore.PeerID]map[string]func(p2pcore.MuxedStream)
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{handlers: make(map[p2pcore.PeerID]map[string]func(p2pcore.MuxedStream))}
}

type fakeRegistry struct {
	net  *fakeNetwork
	self p2pcore.PeerID
}

func (r *fakeRegistry) Handle(protocol string, handler func(p2pcore.MuxedStream)) {
	r.net.mu.Lock()
	defer r.net.mu.Unlock()
	if r.net.handlers[r.self] == nil {
		r.net.handlers[r.self] = make(map[string]func(p2pcore.MuxedStream))
	}
	r.net.handlers[r.self][protocol] = handler
}

func (r *fakeRegistry) RemoveHandler(protocol string) {
	r.net.mu.Lock()
	defer r.net.mu.Unlock()
	delete(r.net.handlers[r.self], protocol)
}

type fakeOpener struct {
	net  *fakeNetwork
	self p2pcore.PeerID
}

func (o *fakeOpener) NewStream(ctx context.Context, to p2pcore.PeerID, protocol string) (p2pcore.MuxedStream, error) {
	o.net.mu.Lock()
	h, ok := o.net.handlers[to][protocol]
	o.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeNetwork: no handler for peer=%s protocol=%s", to, protocol)
	}
	client, server := newPipePair(o.self, to)
	go h(server)
	return client, nil
}

func (n *fakeNetwork) registryFor(peer p2pcore.PeerID) *fakeRegistry {
	return &fakeRegistry{net: n, self: peer}
}

func (n *fakeNetwork) openerFor(peer p2pcore.PeerID) *fakeOpener {
	return &fakeOpener{net: n, self: peer}
}
