package relay

import (
	"fmt"

	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// MaxMessageSize bounds a single HOP/STOP control message, guarding
// against a misbehaving or malicious peer forcing unbounded allocation.
// MuxedStream.ReadMessage/WriteMessage supply the varint length-prefix
// framing (backed by go-msgio in the real libp2p-host binding); this
// package only needs to (de)serialize the payload.
const MaxMessageSize = 4096

func writeHop(stream p2pcore.MuxedStream, m *HopMessage) error {
	return stream.WriteMessage(EncodeHop(m))
}

func readHop(stream p2pcore.MuxedStream) (*HopMessage, error) {
	buf, err := stream.ReadMessage(MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("relay: read hop message: %w", err)
	}
	return DecodeHop(buf)
}

func writeStop(stream p2pcore.MuxedStream, m *StopMessage) error {
	return stream.WriteMessage(EncodeStop(m))
}

func readStop(stream p2pcore.MuxedStream) (*StopMessage, error) {
	buf, err := stream.ReadMessage(MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("relay: read stop message: %w", err)
	}
	return DecodeStop(buf)
}
