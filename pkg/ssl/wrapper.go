package ssl

import "google.golang.org/protobuf/encoding/protowire"

// SSL_WrapperPacket field numbers.
const (
	wrapDetection protowire.Number = 1
	wrapGeometry  protowire.Number = 2
)

// MaxDatagramSize is the receive buffer size used for vision datagrams.
const MaxDatagramSize = 8192

// Marshal encodes the packet as an SSL_WrapperPacket message.
func (p Packet) Marshal() []byte {
	var out []byte
	if p.Detection != nil {
		out = appendMessage(out, wrapDetection, p.Detection.Marshal())
	}
	if p.Geometry != nil {
		out = appendMessage(out, wrapGeometry, p.Geometry.Marshal())
	}
	return out
}

// DecodePacket decodes an SSL_WrapperPacket. The returned packet does not
// reference b. Errors wrap ErrMalformed.
func DecodePacket(b []byte) (Packet, error) {
	var p Packet
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case wrapDetection:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			f, err := decodeDetectionFrame(m)
			if err != nil {
				return 0, err
			}
			p.Detection = &f
			return n, nil
		case wrapGeometry:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			g, err := decodeGeometryFrame(m)
			if err != nil {
				return 0, err
			}
			p.Geometry = &g
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return Packet{}, malformed("wrapper packet", err)
	}
	return p, nil
}
