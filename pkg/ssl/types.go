// Package ssl implements the SSL-Vision and radio wire formats.
//
// Messages are encoded with the protobuf wire format directly through
// protowire, so the field numbers below must stay in sync with
// messages_robocup_ssl_{detection,geometry,wrapper}.proto.
//
// Decoded values are plain Go structs that own all of their memory: decoding
// never retains a reference to the input buffer, so receive buffers can be
// reused as soon as Decode returns.
package ssl

import "strings"

// Team identifies the robot colour in a detection frame.
type Team int

const (
	TeamYellow Team = iota
	TeamBlue
)

func (t Team) String() string {
	switch t {
	case TeamYellow:
		return "yellow"
	case TeamBlue:
		return "blue"
	default:
		return "unknown"
	}
}

// ParseTeam converts "blue" or "yellow" (any case) to a Team.
func ParseTeam(s string) (Team, bool) {
	switch strings.ToLower(s) {
	case "blue":
		return TeamBlue, true
	case "yellow":
		return TeamYellow, true
	}
	return 0, false
}

// DetectionBall is a single ball observation in field coordinates (mm).
type DetectionBall struct {
	Confidence float64
	Area       uint32
	X, Y, Z    float64
	PixelX     float64
	PixelY     float64
}

// DetectionRobot is a single robot observation. Orientation is in radians.
type DetectionRobot struct {
	Confidence  float64
	RobotID     uint32
	X, Y        float64
	Orientation float64
	PixelX      float64
	PixelY      float64
	Height      float64
}

// DetectionFrame is everything one camera saw in one capture.
type DetectionFrame struct {
	FrameNumber  uint32
	TCapture     float64
	TSent        float64
	CameraID     uint32
	Balls        []DetectionBall
	RobotsYellow []DetectionRobot
	RobotsBlue   []DetectionRobot
}

// Robots returns the robot observations for a team.
func (f *DetectionFrame) Robots(team Team) []DetectionRobot {
	if team == TeamBlue {
		return f.RobotsBlue
	}
	return f.RobotsYellow
}

// FindRobot returns the first observation of robotID on team.
func (f *DetectionFrame) FindRobot(team Team, robotID uint32) (DetectionRobot, bool) {
	for _, r := range f.Robots(team) {
		if r.RobotID == robotID {
			return r, true
		}
	}
	return DetectionRobot{}, false
}

// Clone returns a deep copy of the frame.
func (f DetectionFrame) Clone() DetectionFrame {
	f.Balls = cloneSlice(f.Balls)
	f.RobotsYellow = cloneSlice(f.RobotsYellow)
	f.RobotsBlue = cloneSlice(f.RobotsBlue)
	return f
}

// Vector2 is a 2D point in field coordinates (mm).
type Vector2 struct {
	X, Y float64
}

// FieldLineSegment is a named straight field marking.
type FieldLineSegment struct {
	Name      string
	P1, P2    Vector2
	Thickness float64
}

// FieldCircularArc is a named arc field marking. Angles are in radians.
type FieldCircularArc struct {
	Name      string
	Center    Vector2
	Radius    float64
	A1, A2    float64
	Thickness float64
}

// GeometryFieldSize holds the static field dimensions (mm).
type GeometryFieldSize struct {
	FieldLength   int32
	FieldWidth    int32
	GoalWidth     int32
	GoalDepth     int32
	BoundaryWidth int32
	FieldLines    []FieldLineSegment
	FieldArcs     []FieldCircularArc
}

// Clone returns a deep copy of the field size.
func (g GeometryFieldSize) Clone() GeometryFieldSize {
	g.FieldLines = cloneSlice(g.FieldLines)
	g.FieldArcs = cloneSlice(g.FieldArcs)
	return g
}

// GeometryFrame is the geometry payload of a wrapper packet.
// Camera calibrations are skipped when decoding.
type GeometryFrame struct {
	Field GeometryFieldSize
}

// Clone returns a deep copy of the frame.
func (g GeometryFrame) Clone() GeometryFrame {
	return GeometryFrame{Field: g.Field.Clone()}
}

// Kind classifies the payload of a decoded wrapper packet.
type Kind int

const (
	KindEmpty Kind = iota
	KindDetection
	KindGeometry
	KindBoth
)

func (k Kind) String() string {
	switch k {
	case KindDetection:
		return "detection"
	case KindGeometry:
		return "geometry"
	case KindBoth:
		return "detection+geometry"
	default:
		return "empty"
	}
}

// Packet is a decoded SSL_WrapperPacket. Either payload may be absent.
type Packet struct {
	Detection *DetectionFrame
	Geometry  *GeometryFrame
}

// Kind reports which payloads are present.
func (p Packet) Kind() Kind {
	switch {
	case p.Detection != nil && p.Geometry != nil:
		return KindBoth
	case p.Detection != nil:
		return KindDetection
	case p.Geometry != nil:
		return KindGeometry
	default:
		return KindEmpty
	}
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
