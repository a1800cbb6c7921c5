package plumtree

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// Service wires a Router to a real stream transport: it owns one
// outbound stream per peer (opened lazily and serialized by a mutex) and
// serves inbound streams by decoding and dispatching RPCs to the Router.
type Service struct {
	host     p2pcore.StreamOpener
	handlers p2pcore.HandlerRegistry
	self     p2pcore.PeerID
	router   *Router
	log      *slog.Logger

	mu      sync.Mutex
	streams map[p2pcore.PeerID]*outboundStream
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type outboundStream struct {
	mu     sync.Mutex
	stream p2pcore.MuxedStream
}

// MaxRPCSize bounds a single inbound Plumtree RPC.
const MaxRPCSize = 4 * 1024 * 1024

// NewService constructs a Service and its Router, registering the
// Plumtree protocol handler with handlers.
func NewService(host p2pcore.StreamOpener, handlers p2pcore.HandlerRegistry, self p2pcore.PeerID, opts Options, events *p2pcore.Broadcaster, deliver func(topic string, g Gossip)) *Service {
	s := &Service{
		host:     host,
		handlers: handlers,
		self:     self,
		log:      slog.Default().With("component", "plumtree.service"),
		streams:  make(map[p2pcore.PeerID]*outboundStream),
	}
	s.router = NewRouter(self, opts, s, events, deliver)
	if handlers != nil {
		handlers.Handle(p2pcore.ProtocolPlumtree, s.handleIncoming)
	}
	return s
}

// Router exposes the underlying state machine, e.g. for tests that want
// to inspect topic peer sets directly.
func (s *Service) Router() *Router { return s.router }

// Subscribe joins topic.
func (s *Service) Subscribe(topic string) { s.router.Subscribe(topic) }

// Unsubscribe leaves topic.
func (s *Service) Unsubscribe(topic string) { s.router.Unsubscribe(topic) }

// Publish originates a new message on topic, per §4.10: the service must
// be running, the payload must fit within the configured message size
// ceiling, and the caller must be subscribed to topic.
func (s *Service) Publish(topic string, data []byte) (Gossip, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Gossip{}, p2pcore.ErrNotStarted
	}
	if max := s.router.MaxMessageSize(); max > 0 && len(data) > max {
		return Gossip{}, p2pcore.ErrMessageTooLarge
	}
	if !s.router.Subscribed(topic) {
		return Gossip{}, p2pcore.ErrNotSubscribed
	}
	return s.router.RegisterPublished(topic, data), nil
}

// HandlePeerConnected notifies the router of a new peer.
func (s *Service) HandlePeerConnected(peer p2pcore.PeerID) { s.router.HandlePeerConnected(peer) }

// HandlePeerDisconnected notifies the router a peer is gone and drops any
// outbound stream held open for it.
func (s *Service) HandlePeerDisconnected(peer p2pcore.PeerID) {
	s.router.HandlePeerDisconnected(peer)
	s.mu.Lock()
	os, ok := s.streams[peer]
	delete(s.streams, peer)
	s.mu.Unlock()
	if ok {
		os.stream.Close()
	}
}

// StartCleanup runs the router's seen-set/message-store cleanup on
// interval until ctx is canceled.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.router.Cleanup()
			}
		}
	}()
}

// Close stops the cleanup loop and flushes pending lazy-push buffers.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.router.lazy.FlushAll()
	s.wg.Wait()
}

func (s *Service) handleIncoming(stream p2pcore.MuxedStream) {
	peer := stream.RemotePeer()
	defer stream.Close()
	for {
		buf, err := stream.ReadMessage(MaxRPCSize)
		if err != nil {
			return
		}
		rpc, err := Decode(buf)
		if err != nil {
			s.log.Warn("discarding malformed plumtree rpc", "peer", peer, "err", err)
			continue
		}
		s.dispatch(peer, rpc)
	}
}

func (s *Service) dispatch(peer p2pcore.PeerID, rpc *RPC) {
	switch rpc.Kind {
	case RPCGossip:
		if rpc.Gossip != nil {
			s.router.HandleGossip(peer, *rpc.Gossip)
		}
	case RPCIHave:
		s.router.HandleIHave(peer, rpc.IHaves)
	case RPCGraft:
		s.router.HandleGraft(peer, rpc.Topic, rpc.GraftID)
	case RPCPrune:
		s.router.HandlePrune(peer, rpc.Topic)
	}
}

func (s *Service) getStream(peer p2pcore.PeerID) (*outboundStream, error) {
	s.mu.Lock()
	if os, ok := s.streams[peer]; ok {
		s.mu.Unlock()
		return os, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := s.host.NewStream(ctx, peer, p2pcore.ProtocolPlumtree)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if os, ok := s.streams[peer]; ok {
		s.mu.Unlock()
		stream.Close()
		return os, nil
	}
	os := &outboundStream{stream: stream}
	s.streams[peer] = os
	s.mu.Unlock()
	return os, nil
}

func (s *Service) sendRPC(peer p2pcore.PeerID, rpc *RPC) {
	os, err := s.getStream(peer)
	if err != nil {
		s.log.Debug("plumtree: failed to open stream", "peer", peer, "err", err)
		return
	}
	os.mu.Lock()
	err = os.stream.WriteMessage(Encode(rpc))
	os.mu.Unlock()
	if err != nil {
		s.log.Debug("plumtree: write failed, dropping stream", "peer", peer, "err", err)
		s.mu.Lock()
		if s.streams[peer] == os {
			delete(s.streams, peer)
		}
		s.mu.Unlock()
		os.stream.Close()
	}
}

// SendGossip implements Transport.
func (s *Service) SendGossip(peer p2pcore.PeerID, g Gossip) {
	s.sendRPC(peer, &RPC{Kind: RPCGossip, Topic: g.Topic, Gossip: &g})
}

// SendIHave implements Transport.
func (s *Service) SendIHave(peer p2pcore.PeerID, entries []IHaveEntry) {
	s.sendRPC(peer, &RPC{Kind: RPCIHave, IHaves: entries})
}

// SendGraft implements Transport.
func (s *Service) SendGraft(peer p2pcore.PeerID, topic string, id MessageID) {
	s.sendRPC(peer, &RPC{Kind: RPCGraft, Topic: topic, GraftID: id})
}

// SendPrune implements Transport.
func (s *Service) SendPrune(peer p2pcore.PeerID, topic string) {
	s.sendRPC(peer, &RPC{Kind: RPCPrune, Topic: topic})
}
