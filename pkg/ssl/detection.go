package ssl

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// SSL_DetectionFrame field numbers.
const (
	detFrameNumber  protowire.Number = 1
	detTCapture     protowire.Number = 2
	detTSent        protowire.Number = 3
	detCameraID     protowire.Number = 4
	detBalls        protowire.Number = 5
	detRobotsYellow protowire.Number = 6
	detRobotsBlue   protowire.Number = 7
)

// Required SSL_DetectionFrame fields, as a bit set.
const (
	seenFrameNumber = 1 << iota
	seenTCapture
	seenTSent
	seenCameraID

	detectionRequired = seenFrameNumber | seenTCapture | seenTSent | seenCameraID
)

var errMissingRequired = errors.New("missing required fields")

func (b DetectionBall) marshal() []byte {
	var out []byte
	out = appendFloat(out, 1, b.Confidence)
	if b.Area != 0 {
		out = appendUint32(out, 2, b.Area)
	}
	out = appendFloat(out, 3, b.X)
	out = appendFloat(out, 4, b.Y)
	if b.Z != 0 {
		out = appendFloat(out, 5, b.Z)
	}
	out = appendFloat(out, 6, b.PixelX)
	out = appendFloat(out, 7, b.PixelY)
	return out
}

func decodeBall(b []byte) (DetectionBall, error) {
	var ball DetectionBall
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			v   float64
			n   int
			err error
		)
		switch num {
		case 2:
			var u uint64
			u, n, err = consumeVarint(typ, b)
			ball.Area = uint32(u)
			return n, err
		case 1, 3, 4, 5, 6, 7:
			v, n, err = consumeFloat(typ, b)
		default:
			return 0, nil
		}
		switch num {
		case 1:
			ball.Confidence = v
		case 3:
			ball.X = v
		case 4:
			ball.Y = v
		case 5:
			ball.Z = v
		case 6:
			ball.PixelX = v
		case 7:
			ball.PixelY = v
		}
		return n, err
	})
	return ball, err
}

func (r DetectionRobot) marshal() []byte {
	var out []byte
	out = appendFloat(out, 1, r.Confidence)
	out = appendUint32(out, 2, r.RobotID)
	out = appendFloat(out, 3, r.X)
	out = appendFloat(out, 4, r.Y)
	out = appendFloat(out, 5, r.Orientation)
	out = appendFloat(out, 6, r.PixelX)
	out = appendFloat(out, 7, r.PixelY)
	if r.Height != 0 {
		out = appendFloat(out, 8, r.Height)
	}
	return out
}

func decodeRobot(b []byte) (DetectionRobot, error) {
	var r DetectionRobot
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 2 {
			u, n, err := consumeVarint(typ, b)
			r.RobotID = uint32(u)
			return n, err
		}
		var dst *float64
		switch num {
		case 1:
			dst = &r.Confidence
		case 3:
			dst = &r.X
		case 4:
			dst = &r.Y
		case 5:
			dst = &r.Orientation
		case 6:
			dst = &r.PixelX
		case 7:
			dst = &r.PixelY
		case 8:
			dst = &r.Height
		default:
			return 0, nil
		}
		v, n, err := consumeFloat(typ, b)
		*dst = v
		return n, err
	})
	return r, err
}

// Marshal encodes the frame as an SSL_DetectionFrame message.
func (f *DetectionFrame) Marshal() []byte {
	var out []byte
	out = appendUint32(out, detFrameNumber, f.FrameNumber)
	out = appendDouble(out, detTCapture, f.TCapture)
	out = appendDouble(out, detTSent, f.TSent)
	out = appendUint32(out, detCameraID, f.CameraID)
	for _, ball := range f.Balls {
		out = appendMessage(out, detBalls, ball.marshal())
	}
	for _, r := range f.RobotsYellow {
		out = appendMessage(out, detRobotsYellow, r.marshal())
	}
	for _, r := range f.RobotsBlue {
		out = appendMessage(out, detRobotsBlue, r.marshal())
	}
	return out
}

// DecodeDetectionFrame decodes an SSL_DetectionFrame message.
func DecodeDetectionFrame(b []byte) (DetectionFrame, error) {
	f, err := decodeDetectionFrame(b)
	if err != nil {
		return DetectionFrame{}, malformed("detection", err)
	}
	return f, nil
}

func decodeDetectionFrame(b []byte) (DetectionFrame, error) {
	var (
		f    DetectionFrame
		seen int
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case detFrameNumber:
			v, n, err := consumeVarint(typ, b)
			f.FrameNumber = uint32(v)
			seen |= seenFrameNumber
			return n, err
		case detTCapture:
			v, n, err := consumeDouble(typ, b)
			f.TCapture = v
			seen |= seenTCapture
			return n, err
		case detTSent:
			v, n, err := consumeDouble(typ, b)
			f.TSent = v
			seen |= seenTSent
			return n, err
		case detCameraID:
			v, n, err := consumeVarint(typ, b)
			f.CameraID = uint32(v)
			seen |= seenCameraID
			return n, err
		case detBalls:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			ball, err := decodeBall(m)
			if err != nil {
				return 0, err
			}
			f.Balls = append(f.Balls, ball)
			return n, nil
		case detRobotsYellow, detRobotsBlue:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			r, err := decodeRobot(m)
			if err != nil {
				return 0, err
			}
			if num == detRobotsBlue {
				f.RobotsBlue = append(f.RobotsBlue, r)
			} else {
				f.RobotsYellow = append(f.RobotsYellow, r)
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return DetectionFrame{}, err
	}
	if seen&detectionRequired != detectionRequired {
		return DetectionFrame{}, errMissingRequired
	}
	return f, nil
}
