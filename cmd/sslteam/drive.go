package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-sslteam/internal/config"
	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/robot"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// newRadio builds the configured transport. The returned close func is
// never nil.
func newRadio(cfg config.Config) (robot.Radio, func() error, error) {
	l := log.Component("radio")
	switch cfg.Radio.Transport {
	case config.TransportWebSocket:
		return robot.NewWebSocketRadio(cfg.Radio.URL, nil, l), func() error { return nil }, nil
	default:
		r, err := robot.DialGRPC(cfg.Radio.Address, l)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
}

func newDriveCmd(a *app) *cobra.Command {
	var (
		robotID  int
		wheel    float64
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Send a constant wheel command to one robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			radio, closeRadio, err := newRadio(cfg)
			if err != nil {
				return err
			}
			defer closeRadio()

			d := robot.NewDispatcher(radio, cfg.Radio.Period, log.Component("dispatcher"))
			act := robot.Action{RobotID: robotID}
			for i := range act.Wheels {
				act.Wheels[i] = wheel
			}
			if err := d.SetAction(act); err != nil {
				return err
			}
			log.Info("driving", "robot_id", robotID, "wheel", wheel, "quantised", ssl.QuantizeWheel(wheel), "period", d.Period())

			return runAll(ctx,
				d.Run,
				func(ctx context.Context) error {
					return every(ctx, interval, func() {
						s := d.Statistics()
						fmt.Printf("state=%s sent=%d failures=%d last_sent=%s\n",
							d.State(), s.NumSent, s.Failures, s.LastActionSentTime.Format(time.RFC3339Nano))
					})
				},
			)
		},
	}
	cmd.Flags().IntVar(&robotID, "robot-id", 0, "robot to drive")
	cmd.Flags().Float64Var(&wheel, "wheel", 0.01, "velocity for every wheel, nominally in [-1, 1]")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "stats print interval")
	return cmd
}
