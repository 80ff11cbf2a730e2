package protocol

import (
	"github.com/teslashibe/go-sslteam/pkg/ssl"
	"github.com/teslashibe/go-sslteam/pkg/worldmodel"
)

// NewWorldMessage wraps a world snapshot.
func NewWorldMessage(s worldmodel.Snapshot) (*Message, error) {
	return NewMessage(TypeWorld, s)
}

// NewGeometryMessage wraps field geometry.
func NewGeometryMessage(g GeometryData) (*Message, error) {
	return NewMessage(TypeGeometry, g)
}

// NewStatsMessage wraps pipeline counters.
func NewStatsMessage(s StatsData) (*Message, error) {
	return NewMessage(TypeStats, s)
}

// NewBallSettingsMessage wraps ball filter settings.
func NewBallSettingsMessage(s BallSettingsData) (*Message, error) {
	return NewMessage(TypeBallSettings, s)
}

// GetWorldData extracts a world snapshot.
func (m *Message) GetWorldData() (*WorldData, error) {
	var data WorldData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetGeometryData extracts field geometry.
func (m *Message) GetGeometryData() (*GeometryData, error) {
	var data GeometryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GeometryFromSSL converts decoded geometry to its JSON form.
func GeometryFromSSL(g ssl.GeometryFieldSize) GeometryData {
	d := GeometryData{
		FieldLength:   g.FieldLength,
		FieldWidth:    g.FieldWidth,
		GoalWidth:     g.GoalWidth,
		GoalDepth:     g.GoalDepth,
		BoundaryWidth: g.BoundaryWidth,
	}
	for _, l := range g.FieldLines {
		d.Lines = append(d.Lines, LineSegment{
			Name:      l.Name,
			P1:        Vector2(l.P1),
			P2:        Vector2(l.P2),
			Thickness: l.Thickness,
		})
	}
	for _, a := range g.FieldArcs {
		d.Arcs = append(d.Arcs, CircularArc{
			Name:      a.Name,
			Center:    Vector2(a.Center),
			Radius:    a.Radius,
			A1:        a.A1,
			A2:        a.A2,
			Thickness: a.Thickness,
		})
	}
	return d
}

// SSL converts the JSON form back to wire geometry.
func (d GeometryData) SSL() ssl.GeometryFieldSize {
	g := ssl.GeometryFieldSize{
		FieldLength:   d.FieldLength,
		FieldWidth:    d.FieldWidth,
		GoalWidth:     d.GoalWidth,
		GoalDepth:     d.GoalDepth,
		BoundaryWidth: d.BoundaryWidth,
	}
	for _, l := range d.Lines {
		g.FieldLines = append(g.FieldLines, ssl.FieldLineSegment{
			Name:      l.Name,
			P1:        ssl.Vector2(l.P1),
			P2:        ssl.Vector2(l.P2),
			Thickness: l.Thickness,
		})
	}
	for _, a := range d.Arcs {
		g.FieldArcs = append(g.FieldArcs, ssl.FieldCircularArc{
			Name:      a.Name,
			Center:    ssl.Vector2(a.Center),
			Radius:    a.Radius,
			A1:        a.A1,
			A2:        a.A2,
			Thickness: a.Thickness,
		})
	}
	return g
}
