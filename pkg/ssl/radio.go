package ssl

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// NumWheels is the length of every wheel velocity vector.
const NumWheels = 4

// MaxWheelCommand is the magnitude a wheel velocity of 1.0 maps to.
const MaxWheelCommand = 127

// RobotCommand is the per-robot radio command.
type RobotCommand struct {
	WheelVelocity [NumWheels]int8
}

// RobotCommands is one radio message: a command per robot id.
//
//	message RobotCommand  { repeated int32 wheel_velocity = 1; }
//	message RobotCommands { map<uint32, RobotCommand> commands = 1; }
type RobotCommands struct {
	Commands map[uint32]RobotCommand
}

// QuantizeWheel scales v from [-1, 1] to the radio range: the scaled value
// is clamped to [-127, 127] first and then rounded half away from zero.
// NaN maps to 0.
func QuantizeWheel(v float64) int8 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := math.Max(-MaxWheelCommand, math.Min(MaxWheelCommand, v*MaxWheelCommand))
	return int8(math.Round(scaled))
}

func (c RobotCommand) marshal() []byte {
	var packed []byte
	for _, w := range c.WheelVelocity {
		packed = protowire.AppendVarint(packed, uint64(int64(w)))
	}
	return appendMessage(nil, 1, packed)
}

func decodeRobotCommand(b []byte) (RobotCommand, error) {
	var (
		c     RobotCommand
		count int
	)
	push := func(v uint64) error {
		if count >= NumWheels {
			return fmt.Errorf("more than %d wheel velocities", NumWheels)
		}
		c.WheelVelocity[count] = int8(int32(v))
		count++
		return nil
	}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		if typ == protowire.VarintType {
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			return n, push(v)
		}
		packed, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			if err := push(v); err != nil {
				return 0, err
			}
			packed = packed[m:]
		}
		return n, nil
	})
	return c, err
}

// Marshal encodes the commands with map entries ordered by robot id.
func (rc RobotCommands) Marshal() []byte {
	ids := make([]uint32, 0, len(rc.Commands))
	for id := range rc.Commands {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []byte
	for _, id := range ids {
		var entry []byte
		entry = appendUint32(entry, 1, id)
		entry = appendMessage(entry, 2, rc.Commands[id].marshal())
		out = appendMessage(out, 1, entry)
	}
	return out
}

// DecodeRobotCommands decodes a RobotCommands message. Errors wrap ErrMalformed.
func DecodeRobotCommands(b []byte) (RobotCommands, error) {
	rc := RobotCommands{Commands: make(map[uint32]RobotCommand)}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		entry, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		var (
			id  uint32
			cmd RobotCommand
		)
		err = walk(entry, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeVarint(typ, b)
				id = uint32(v)
				return n, err
			case 2:
				m, n, err := consumeBytes(typ, b)
				if err != nil {
					return 0, err
				}
				cmd, err = decodeRobotCommand(m)
				return n, err
			}
			return 0, nil
		})
		if err != nil {
			return 0, err
		}
		rc.Commands[id] = cmd
		return n, nil
	})
	if err != nil {
		return RobotCommands{}, malformed("robot commands", err)
	}
	return rc, nil
}
