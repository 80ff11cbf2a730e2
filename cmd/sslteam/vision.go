package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-sslteam/internal/config"
	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/vision"
)

func openVision(ctx context.Context, cfg config.Config) (*vision.Client, error) {
	r, err := vision.Bind(ctx, cfg.Vision.Group, cfg.Vision.Port, vision.BindOptions{
		Interface: cfg.Vision.Interface,
		Loopback:  cfg.Vision.Loopback,
		Logger:    log.Component("vision"),
	})
	if err != nil {
		return nil, err
	}
	return vision.NewClient(r, log.Component("vision")), nil
}

// republisher returns a runner forwarding the client's frames to the
// configured republish group.
func republisher(cfg config.Config, c *vision.Client) (func(context.Context) error, error) {
	rp, err := vision.DialMulticast(cfg.Vision.RepublishGroup, cfg.Vision.RepublishPort, cfg.Vision.TTL, log.Component("republisher"))
	if err != nil {
		return nil, err
	}
	dets := c.SubscribeDetections(cfg.QueueOptions()...)
	geos := c.SubscribeGeometry(cfg.QueueOptions()...)
	return func(ctx context.Context) error {
		defer rp.Close()
		return rp.Run(ctx, dets, geos)
	}, nil
}

func newVisionCmd(a *app) *cobra.Command {
	var (
		republish bool
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "vision",
		Short: "Receive SSL-Vision packets and report what arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			c, err := openVision(ctx, cfg)
			if err != nil {
				return err
			}
			dets := c.SubscribeDetections(cfg.QueueOptions()...)
			runners := []func(context.Context) error{
				c.Run,
				func(ctx context.Context) error {
					for {
						f, err := dets.Recv(ctx)
						if err != nil {
							return nil
						}
						log.Debug("detection",
							"camera_id", f.CameraID,
							"frame", f.FrameNumber,
							"balls", len(f.Balls),
							"yellow", len(f.RobotsYellow),
							"blue", len(f.RobotsBlue))
					}
				},
				func(ctx context.Context) error {
					return every(ctx, interval, func() {
						s := c.Stats()
						fmt.Printf("packets=%d detections=%d geometry=%d malformed=%d\n",
							s.Packets, s.Detections, s.Geometry, s.Malformed)
					})
				},
			}
			if republish {
				run, err := republisher(cfg, c)
				if err != nil {
					return err
				}
				runners = append(runners, run)
			}
			return runAll(ctx, runners...)
		},
	}
	cmd.Flags().BoolVar(&republish, "republish", false, "forward received frames to the republish group")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "stats print interval")
	return cmd
}

// every calls fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}
