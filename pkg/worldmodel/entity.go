// Package worldmodel tracks the ball and every robot seen by vision.
//
// Detection frames are fed through a ball Kalman filter and one unscented
// filter per robot. Time steps come from the frames' capture timestamps, so
// replayed logs track the same way live vision does.
package worldmodel

import (
	"github.com/teslashibe/go-sslteam/pkg/filter"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// TrackKey identifies one robot on the field.
type TrackKey struct {
	Team    ssl.Team
	RobotID uint32
}

// BallEstimate is the filtered ball.
type BallEstimate struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
	LastSeen float64 `json:"last_seen"` // t_capture of the last measurement
}

// RobotEstimate is one filtered robot track.
type RobotEstimate struct {
	Team     string  `json:"team"`
	RobotID  uint32  `json:"robot_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Theta    float64 `json:"theta"`
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
	Omega    float64 `json:"omega"`
	LastSeen float64 `json:"last_seen"`
	Updates  uint64  `json:"updates"`
	Stale    bool    `json:"stale"` // not seen for longer than the no-data timeout
}

// Snapshot is a consistent copy of the world at Timestamp, the newest
// capture time observed.
type Snapshot struct {
	Timestamp float64         `json:"timestamp"`
	Ball      *BallEstimate   `json:"ball,omitempty"`
	Robots    []RobotEstimate `json:"robots"`
}

// Stats counts what the model has consumed.
type Stats struct {
	Frames       uint64 `json:"frames"`
	BallUpdates  uint64 `json:"ball_updates"`
	RobotUpdates uint64 `json:"robot_updates"`
	Rejected     uint64 `json:"rejected"`     // below the confidence threshold
	Reacquired   uint64 `json:"reacquired"`   // tracks reset after timing out
	FilterErrors uint64 `json:"filter_errors"`
}

type robotTrack struct {
	filter   *filter.RobotFilter
	lastSeen float64
	updates  uint64
}

func (t *robotTrack) estimate(key TrackKey, now float64, timeout float64) RobotEstimate {
	s := t.filter.State()
	return RobotEstimate{
		Team:     key.Team.String(),
		RobotID:  key.RobotID,
		X:        s.X,
		Y:        s.Y,
		Theta:    s.Theta,
		VX:       s.VX,
		VY:       s.VY,
		Omega:    s.Omega,
		LastSeen: t.lastSeen,
		Updates:  t.updates,
		Stale:    now-t.lastSeen > timeout,
	}
}
