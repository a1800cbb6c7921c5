package relay

import (
	"fmt"

	"github.com/shurlinet/p2pcore/internal/wireutil"
)

// Message shapes and field numbers mirror go-libp2p's own circuit-relay-v2
// protobuf definitions, as observed in the retrieved reference
// implementation's use of pbv2.HopMessage/StopMessage/Peer/Reservation/
// Limit — reimplemented here by hand since no protoc invocation is
// available, per spec §4.12.

type HopType int32

const (
	HopReserve HopType = 0
	HopConnect HopType = 1
	HopStatus  HopType = 2
)

type StopType int32

const (
	StopConnect StopType = 0
	StopStatus  StopType = 1
)

// Status codes, matching the retrieved relay.go's pbv2.Status constants.
type Status int32

const (
	StatusOK                     Status = 100
	StatusReservationRefused     Status = 200
	StatusResourceLimitExceeded  Status = 201
	StatusPermissionDenied       Status = 202
	StatusConnectionFailed       Status = 203
	StatusNoReservation          Status = 204
	StatusMalformedMessage       Status = 400
	StatusUnexpectedMessage      Status = 401
)

// PeerInfo is the wire shape for a peer identity plus known addresses.
type PeerInfo struct {
	ID    []byte
	Addrs [][]byte
}

// ReservationInfo is the wire shape of a relay's RESERVE response body.
type ReservationInfo struct {
	Expire  uint64 // unix seconds
	Addrs   [][]byte
	Voucher []byte // optional
}

// Limit is the wire shape of a circuit's resource limits. Pointer fields
// are optional, matching the proto3-generated pointer convention the
// retrieved pbv2.Limit itself uses for its optional scalar fields.
type Limit struct {
	Duration *uint32 // seconds
	Data     *uint64
}

// HopMessage is the control message spoken on the HOP protocol between a
// client and a relay.
type HopMessage struct {
	Type        HopType
	Peer        *PeerInfo
	Reservation *ReservationInfo
	Limit       *Limit
	Status      Status
}

// StopMessage is the control message spoken on the STOP protocol between
// a relay and a target.
type StopMessage struct {
	Type   StopType
	Peer   *PeerInfo
	Limit  *Limit
	Status Status
}

// Field numbers, matching the retrieved pbv2 shapes.
const (
	fieldHopType        = 1
	fieldHopPeer        = 2
	fieldHopReservation = 3
	fieldHopLimit       = 4
	fieldHopStatus      = 5

	fieldStopType   = 1
	fieldStopPeer   = 2
	fieldStopLimit  = 3
	fieldStopStatus = 4

	fieldPeerID    = 1
	fieldPeerAddrs = 2

	fieldResExpire  = 1
	fieldResAddrs   = 2
	fieldResVoucher = 3

	fieldLimitDuration = 1
	fieldLimitData     = 2
)

func encodePeerInfo(p *PeerInfo) []byte {
	var buf []byte
	buf = wireutil.AppendBytesField(buf, fieldPeerID, p.ID)
	for _, a := range p.Addrs {
		buf = wireutil.AppendBytesField(buf, fieldPeerAddrs, a)
	}
	return buf
}

func decodePeerInfo(raw []byte) (*PeerInfo, error) {
	d := wireutil.NewDecoder(raw)
	p := &PeerInfo{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldPeerID:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			p.ID = append([]byte(nil), b...)
		case fieldPeerAddrs:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			p.Addrs = append(p.Addrs, append([]byte(nil), b...))
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func encodeReservationInfo(r *ReservationInfo) []byte {
	var buf []byte
	buf = wireutil.AppendVarintField(buf, fieldResExpire, r.Expire)
	for _, a := range r.Addrs {
		buf = wireutil.AppendBytesField(buf, fieldResAddrs, a)
	}
	if r.Voucher != nil {
		buf = wireutil.AppendBytesField(buf, fieldResVoucher, r.Voucher)
	}
	return buf
}

func decodeReservationInfo(raw []byte) (*ReservationInfo, error) {
	d := wireutil.NewDecoder(raw)
	r := &ReservationInfo{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldResExpire:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			r.Expire = v
		case fieldResAddrs:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			r.Addrs = append(r.Addrs, append([]byte(nil), b...))
		case fieldResVoucher:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			r.Voucher = append([]byte(nil), b...)
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func encodeLimit(l *Limit) []byte {
	var buf []byte
	if l.Duration != nil {
		buf = wireutil.AppendVarintField(buf, fieldLimitDuration, uint64(*l.Duration))
	}
	if l.Data != nil {
		buf = wireutil.AppendVarintField(buf, fieldLimitData, *l.Data)
	}
	return buf
}

func decodeLimit(raw []byte) (*Limit, error) {
	d := wireutil.NewDecoder(raw)
	l := &Limit{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldLimitDuration:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			dv := uint32(v)
			l.Duration = &dv
		case fieldLimitData:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			l.Data = &v
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return l, nil
}

// EncodeHop serializes a HopMessage.
func EncodeHop(m *HopMessage) []byte {
	var buf []byte
	buf = wireutil.AppendVarintField(buf, fieldHopType, uint64(m.Type))
	if m.Peer != nil {
		buf = wireutil.AppendBytesField(buf, fieldHopPeer, encodePeerInfo(m.Peer))
	}
	if m.Reservation != nil {
		buf = wireutil.AppendBytesField(buf, fieldHopReservation, encodeReservationInfo(m.Reservation))
	}
	if m.Limit != nil {
		buf = wireutil.AppendBytesField(buf, fieldHopLimit, encodeLimit(m.Limit))
	}
	if m.Status != 0 {
		buf = wireutil.AppendVarintField(buf, fieldHopStatus, uint64(m.Status))
	}
	return buf
}

// DecodeHop deserializes a HopMessage, skipping unknown fields.
func DecodeHop(raw []byte) (*HopMessage, error) {
	d := wireutil.NewDecoder(raw)
	m := &HopMessage{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldHopType:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			m.Type = HopType(v)
		case fieldHopPeer:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodePeerInfo(b)
			if err != nil {
				return nil, fmt.Errorf("relay: decode hop peer: %w", err)
			}
			m.Peer = p
		case fieldHopReservation:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			r, err := decodeReservationInfo(b)
			if err != nil {
				return nil, fmt.Errorf("relay: decode hop reservation: %w", err)
			}
			m.Reservation = r
		case fieldHopLimit:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			l, err := decodeLimit(b)
			if err != nil {
				return nil, fmt.Errorf("relay: decode hop limit: %w", err)
			}
			m.Limit = l
		case fieldHopStatus:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			m.Status = Status(v)
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// EncodeStop serializes a StopMessage.
func EncodeStop(m *StopMessage) []byte {
	var buf []byte
	buf = wireutil.AppendVarintField(buf, fieldStopType, uint64(m.Type))
	if m.Peer != nil {
		buf = wireutil.AppendBytesField(buf, fieldStopPeer, encodePeerInfo(m.Peer))
	}
	if m.Limit != nil {
		buf = wireutil.AppendBytesField(buf, fieldStopLimit, encodeLimit(m.Limit))
	}
	if m.Status != 0 {
		buf = wireutil.AppendVarintField(buf, fieldStopStatus, uint64(m.Status))
	}
	return buf
}

// DecodeStop deserializes a StopMessage, skipping unknown fields.
func DecodeStop(raw []byte) (*StopMessage, error) {
	d := wireutil.NewDecoder(raw)
	m := &StopMessage{}
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		switch field {
		case fieldStopType:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			m.Type = StopType(v)
		case fieldStopPeer:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodePeerInfo(b)
			if err != nil {
				return nil, fmt.Errorf("relay: decode stop peer: %w", err)
			}
			m.Peer = p
		case fieldStopLimit:
			b, err := d.ReadBytes()
			if err != nil {
				return nil, err
			}
			l, err := decodeLimit(b)
			if err != nil {
				return nil, fmt.Errorf("relay: decode stop limit: %w", err)
			}
			m.Limit = l
		case fieldStopStatus:
			v, err := d.ReadVarint()
			if err != nil {
				return nil, err
			}
			m.Status = Status(v)
		default:
			if err := d.SkipField(wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}
