package relay

import (
	"fmt"
	"time"

	"github.com/shurlinet/p2pcore/internal/wireutil"
	"github.com/shurlinet/p2pcore/pkg/p2pcore"
)

// Voucher domain and codec match go-libp2p's own relay-rsvp record, so a
// sealed envelope produced here verifies identically against any
// standard libp2p peer inspecting it.
const (
	VoucherDomain = "libp2p-relay-rsvp"
)

// VoucherCodec is the multicodec prefix go-libp2p uses for relay
// reservation vouchers.
var VoucherCodec = []byte{0x03, 0x02}

// ReservationVoucher is a signed record.Record a relay produces to vouch,
// to any third party, that it has granted Peer a reservation expiring at
// Expiration. It implements the record.Record interface so it can be
// sealed with record.Seal and shipped as the ReservationInfo.Voucher
// bytes.
type ReservationVoucher struct {
	Relay      p2pcore.PeerID
	Peer       p2pcore.PeerID
	Expiration time.Time
}

// Domain implements record.Record.
func (ReservationVoucher) Domain() string { return VoucherDomain }

// Codec implements record.Record.
func (ReservationVoucher) Codec() []byte { return VoucherCodec }

const (
	fieldVoucherRelay = 1
	fieldVoucherPeer  = 2
	fieldVoucherExpire = 3
)

// MarshalRecord implements record.Record.
func (v *ReservationVoucher) MarshalRecord() ([]byte, error) {
	var buf []byte
	buf = wireutil.AppendStringField(buf, fieldVoucherRelay, string(v.Relay))
	buf = wireutil.AppendStringField(buf, fieldVoucherPeer, string(v.Peer))
	buf = wireutil.AppendVarintField(buf, fieldVoucherExpire, uint64(v.Expiration.Unix()))
	return buf, nil
}

// UnmarshalRecord implements record.Record.
func (v *ReservationVoucher) UnmarshalRecord(raw []byte) error {
	d := wireutil.NewDecoder(raw)
	for !d.Done() {
		field, wt, err := d.NextTag()
		if err != nil {
			return err
		}
		switch field {
		case fieldVoucherRelay:
			b, err := d.ReadBytes()
			if err != nil {
				return err
			}
			v.Relay = p2pcore.PeerID(b)
		case fieldVoucherPeer:
			b, err := d.ReadBytes()
			if err != nil {
				return err
			}
			v.Peer = p2pcore.PeerID(b)
		case fieldVoucherExpire:
			e, err := d.ReadVarint()
			if err != nil {
				return err
			}
			v.Expiration = time.Unix(int64(e), 0)
		default:
			if err := d.SkipField(wt); err != nil {
				return fmt.Errorf("relay: decode voucher: %w", err)
			}
		}
	}
	return nil
}
