package ssl

import "google.golang.org/protobuf/encoding/protowire"

// SSL_GeometryFieldSize field numbers.
const (
	geoFieldLength   protowire.Number = 1
	geoFieldWidth    protowire.Number = 2
	geoGoalWidth     protowire.Number = 3
	geoGoalDepth     protowire.Number = 4
	geoBoundaryWidth protowire.Number = 5
	geoFieldLines    protowire.Number = 6
	geoFieldArcs     protowire.Number = 7

	// SSL_GeometryData
	geoDataField protowire.Number = 1
)

const fieldSizeRequired = 1<<5 - 1

func (v Vector2) marshal() []byte {
	var out []byte
	out = appendFloat(out, 1, v.X)
	out = appendFloat(out, 2, v.Y)
	return out
}

func decodeVector2(b []byte) (Vector2, error) {
	var v Vector2
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			x, n, err := consumeFloat(typ, b)
			v.X = x
			return n, err
		case 2:
			y, n, err := consumeFloat(typ, b)
			v.Y = y
			return n, err
		}
		return 0, nil
	})
	return v, err
}

func (l FieldLineSegment) marshal() []byte {
	var out []byte
	out = appendString(out, 1, l.Name)
	out = appendMessage(out, 2, l.P1.marshal())
	out = appendMessage(out, 3, l.P2.marshal())
	out = appendFloat(out, 4, l.Thickness)
	return out
}

func decodeLine(b []byte) (FieldLineSegment, error) {
	var l FieldLineSegment
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeBytes(typ, b)
			l.Name = string(s)
			return n, err
		case 2, 3:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			p, err := decodeVector2(m)
			if num == 2 {
				l.P1 = p
			} else {
				l.P2 = p
			}
			return n, err
		case 4:
			v, n, err := consumeFloat(typ, b)
			l.Thickness = v
			return n, err
		}
		return 0, nil
	})
	return l, err
}

func (a FieldCircularArc) marshal() []byte {
	var out []byte
	out = appendString(out, 1, a.Name)
	out = appendMessage(out, 2, a.Center.marshal())
	out = appendFloat(out, 3, a.Radius)
	out = appendFloat(out, 4, a.A1)
	out = appendFloat(out, 5, a.A2)
	out = appendFloat(out, 6, a.Thickness)
	return out
}

func decodeArc(b []byte) (FieldCircularArc, error) {
	var a FieldCircularArc
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeBytes(typ, b)
			a.Name = string(s)
			return n, err
		case 2:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			a.Center, err = decodeVector2(m)
			return n, err
		}
		var dst *float64
		switch num {
		case 3:
			dst = &a.Radius
		case 4:
			dst = &a.A1
		case 5:
			dst = &a.A2
		case 6:
			dst = &a.Thickness
		default:
			return 0, nil
		}
		v, n, err := consumeFloat(typ, b)
		*dst = v
		return n, err
	})
	return a, err
}

// Marshal encodes the field size as an SSL_GeometryFieldSize message.
func (g *GeometryFieldSize) Marshal() []byte {
	var out []byte
	out = appendInt32(out, geoFieldLength, g.FieldLength)
	out = appendInt32(out, geoFieldWidth, g.FieldWidth)
	out = appendInt32(out, geoGoalWidth, g.GoalWidth)
	out = appendInt32(out, geoGoalDepth, g.GoalDepth)
	out = appendInt32(out, geoBoundaryWidth, g.BoundaryWidth)
	for _, l := range g.FieldLines {
		out = appendMessage(out, geoFieldLines, l.marshal())
	}
	for _, a := range g.FieldArcs {
		out = appendMessage(out, geoFieldArcs, a.marshal())
	}
	return out
}

func decodeFieldSize(b []byte) (GeometryFieldSize, error) {
	var (
		g    GeometryFieldSize
		seen int
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *int32
		switch num {
		case geoFieldLength:
			dst = &g.FieldLength
		case geoFieldWidth:
			dst = &g.FieldWidth
		case geoGoalWidth:
			dst = &g.GoalWidth
		case geoGoalDepth:
			dst = &g.GoalDepth
		case geoBoundaryWidth:
			dst = &g.BoundaryWidth
		case geoFieldLines:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			l, err := decodeLine(m)
			if err != nil {
				return 0, err
			}
			g.FieldLines = append(g.FieldLines, l)
			return n, nil
		case geoFieldArcs:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			a, err := decodeArc(m)
			if err != nil {
				return 0, err
			}
			g.FieldArcs = append(g.FieldArcs, a)
			return n, nil
		default:
			return 0, nil
		}
		v, n, err := consumeVarint(typ, b)
		*dst = int32(v)
		seen |= 1 << (num - 1)
		return n, err
	})
	if err != nil {
		return GeometryFieldSize{}, err
	}
	if seen&fieldSizeRequired != fieldSizeRequired {
		return GeometryFieldSize{}, errMissingRequired
	}
	return g, nil
}

// Marshal encodes the frame as an SSL_GeometryData message.
func (g *GeometryFrame) Marshal() []byte {
	return appendMessage(nil, geoDataField, g.Field.Marshal())
}

func decodeGeometryFrame(b []byte) (GeometryFrame, error) {
	var (
		g        GeometryFrame
		hasField bool
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != geoDataField {
			return 0, nil
		}
		m, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		g.Field, err = decodeFieldSize(m)
		hasField = true
		return n, err
	})
	if err != nil {
		return GeometryFrame{}, err
	}
	if !hasField {
		return GeometryFrame{}, errMissingRequired
	}
	return g, nil
}
