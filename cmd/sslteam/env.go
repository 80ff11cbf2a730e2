package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/env"
	"github.com/teslashibe/go-sslteam/pkg/field"
	"github.com/teslashibe/go-sslteam/pkg/observation"
	"github.com/teslashibe/go-sslteam/pkg/robot"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

func newEnvCmd(a *app) *cobra.Command {
	var (
		robotID  int
		team     string
		cameras  int
		episodes int
		maxSteps int
		seed     uint64
	)
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Drive one robot through episodes of random actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			t, ok := ssl.ParseTeam(team)
			if !ok {
				return fmt.Errorf("unknown team %q", team)
			}
			ctx, stop := signalContext()
			defer stop()

			c, err := openVision(ctx, cfg)
			if err != nil {
				return err
			}
			radio, closeRadio, err := newRadio(cfg)
			if err != nil {
				return err
			}
			defer closeRadio()

			cache := observation.NewCache(log.Component("observation"))
			dets := c.SubscribeDetections(cfg.QueueOptions()...)
			d := robot.NewDispatcher(radio, cfg.Radio.Period, log.Component("dispatcher"))

			dims := field.DivisionB()
			e, err := env.New(env.Config{
				RobotID:     robotID,
				Team:        t,
				NumCameras:  cameras,
				FieldWidth:  float64(dims.FieldWidth),
				FieldLength: float64(dims.FieldLength),
			}, cache, d, log.Component("env"),
				c.Run,
				func(ctx context.Context) error { return cache.Run(ctx, dets) },
				d.Run,
			)
			if err != nil {
				return err
			}
			e.Start(ctx)
			defer e.Close()

			rng := rand.New(rand.NewPCG(seed, seed))
			tick := time.NewTicker(cfg.Radio.Period)
			defer tick.Stop()

			for ep := 0; ep < episodes; ep++ {
				state, err := e.Reset()
				if err != nil {
					return err
				}
				total := 0.0
				steps := 0
				for ; steps < maxSteps; steps++ {
					select {
					case <-ctx.Done():
						return nil
					case <-tick.C:
					}
					var act env.Action
					for i := range act {
						act[i] = rng.Float64()*2 - 1
					}
					next, reward, done, info, err := e.Step(act)
					if err != nil {
						return err
					}
					total += reward
					state = next
					if done {
						break
					}
					if steps%60 == 0 {
						log.Debug("step", "episode", ep, "step", steps, "sent", info.Actions.NumSent, "frames", info.Observations.NumUpdates)
					}
				}
				seen := 0
				for _, cam := range state {
					if cam.Detected {
						seen++
					}
				}
				log.Info("episode finished", "episode", ep, "steps", steps, "reward", total, "cameras_seeing_robot", seen)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&robotID, "robot-id", 0, "controlled robot")
	cmd.Flags().StringVar(&team, "team", "blue", "team colour: blue or yellow")
	cmd.Flags().IntVar(&cameras, "cameras", 4, "number of vision cameras")
	cmd.Flags().IntVar(&episodes, "episodes", 1, "episodes to run")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 600, "steps per episode")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}
