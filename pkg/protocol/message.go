// Package protocol defines the JSON messages exchanged with visualizer
// clients over HTTP and websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-sslteam/pkg/filter"
	"github.com/teslashibe/go-sslteam/pkg/worldmodel"
)

// MessageType identifies the type of websocket message.
type MessageType string

const (
	TypeWorld        MessageType = "world"         // Filtered world snapshot
	TypeGeometry     MessageType = "geometry"      // Field geometry changed
	TypeStats        MessageType = "stats"         // Pipeline counters
	TypeBallSettings MessageType = "ball_settings" // Ball filter retuned
)

// Message is the envelope for every websocket message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// ParseData unmarshals the message data into v. Empty data is a no-op.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: parse message: missing type")
	}
	return &msg, nil
}

// WorldData is a world snapshot.
type WorldData = worldmodel.Snapshot

// BallSettingsData is the tunable ball filter configuration.
type BallSettingsData = filter.BallSettings

// Vector2 is a field point in millimetres.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LineSegment is a straight field marking.
type LineSegment struct {
	Name      string  `json:"name"`
	P1        Vector2 `json:"p1"`
	P2        Vector2 `json:"p2"`
	Thickness float64 `json:"thickness"`
}

// CircularArc is an arc field marking. Angles are in radians.
type CircularArc struct {
	Name      string  `json:"name"`
	Center    Vector2 `json:"center"`
	Radius    float64 `json:"radius"`
	A1        float64 `json:"a1"`
	A2        float64 `json:"a2"`
	Thickness float64 `json:"thickness"`
}

// GeometryData is the field geometry in millimetres.
type GeometryData struct {
	FieldLength   int32         `json:"field_length"`
	FieldWidth    int32         `json:"field_width"`
	GoalWidth     int32         `json:"goal_width"`
	GoalDepth     int32         `json:"goal_depth"`
	BoundaryWidth int32         `json:"boundary_width"`
	Lines         []LineSegment `json:"lines,omitempty"`
	Arcs          []CircularArc `json:"arcs,omitempty"`
	Source        string        `json:"source,omitempty"` // "vision" or "manual"; ignored on input
}

// VisionStats mirrors the vision client counters.
type VisionStats struct {
	Packets    uint64 `json:"packets"`
	Detections uint64 `json:"detections"`
	Geometry   uint64 `json:"geometry"`
	Malformed  uint64 `json:"malformed"`
}

// StatsData groups the pipeline counters.
type StatsData struct {
	Vision  *VisionStats      `json:"vision,omitempty"`
	World   *worldmodel.Stats `json:"world,omitempty"`
	Viewers int               `json:"viewers"`
}
