package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-sslteam/internal/config"
	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/field"
	"github.com/teslashibe/go-sslteam/pkg/protocol"
	"github.com/teslashibe/go-sslteam/pkg/web"
	"github.com/teslashibe/go-sslteam/pkg/worldmodel"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		republish bool
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Track the field and serve the visualizer API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, err := a.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			c, err := openVision(ctx, cfg)
			if err != nil {
				return err
			}
			world, err := worldmodel.New(worldmodel.Config{
				Ball:    cfg.Filter.Ball,
				Unknown: cfg.Filter.Unknown,
				Known:   cfg.Filter.Known,
			}, log.Component("worldmodel"))
			if err != nil {
				return err
			}
			store := field.NewStore(log.Component("field"))
			srv := web.NewServer(world, store, web.Options{
				Addr:        cfg.Web.Addr,
				StaticDir:   cfg.Web.StaticDir,
				Vision:      c,
				StatsPeriod: cfg.Web.StatsPeriod,
				Logger:      log.Component("web"),
			})
			srv.OnBallSettings = func(s protocol.BallSettingsData) {
				log.Info("ball settings changed from visualizer", "friction_decel", s.FrictionDecel)
			}

			dets := c.SubscribeDetections(cfg.QueueOptions()...)
			geos := c.SubscribeGeometry(cfg.QueueOptions()...)
			runners := []func(context.Context) error{
				c.Run,
				func(ctx context.Context) error { return world.Run(ctx, dets) },
				func(ctx context.Context) error { return store.Run(ctx, geos) },
				srv.Run,
			}
			if republish {
				run, err := republisher(cfg, c)
				if err != nil {
					return err
				}
				runners = append(runners, run)
			}
			if watch && config.FileExists(loader.Path) {
				runners = append(runners, func(ctx context.Context) error {
					return config.Watch(ctx, loader, 0, func(next config.Config) {
						if err := world.SetBallSettings(next.Filter.Ball); err != nil {
							log.Warn("reloaded ball settings rejected", "error", err)
						}
					}, log.Component("config"))
				})
			}
			log.Info("serving", "addr", cfg.Web.Addr, "vision", cfg.Vision.Group, "port", cfg.Vision.Port)
			return runAll(ctx, runners...)
		},
	}
	cmd.Flags().BoolVar(&republish, "republish", false, "forward received frames to the republish group")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload ball filter settings when the config file changes")
	return cmd
}
