package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/observation"
)

func newObserveCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Print the latest frame per camera at a fixed interval",
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
			cache := observation.NewCache(log.Component("observation"))
			dets := c.SubscribeDetections(cfg.QueueOptions()...)

			return runAll(ctx,
				c.Run,
				func(ctx context.Context) error { return cache.Run(ctx, dets) },
				func(ctx context.Context) error {
					return every(ctx, interval, func() {
						frames := cache.CloneAndClear()
						ids := make([]uint32, 0, len(frames))
						for id := range frames {
							ids = append(ids, id)
						}
						sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
						for _, id := range ids {
							f := frames[id]
							fmt.Printf("camera %d: frame=%d t_capture=%.3f balls=%d yellow=%d blue=%d\n",
								id, f.FrameNumber, f.TCapture, len(f.Balls), len(f.RobotsYellow), len(f.RobotsBlue))
						}
						s := cache.Statistics()
						fmt.Printf("cached=%d total=%d\n", len(frames), s.NumUpdates)
					})
				},
			)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "print interval")
	return cmd
}
