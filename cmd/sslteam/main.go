// Command sslteam runs the team's vision, control and visualizer loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-sslteam/internal/config"
	"github.com/teslashibe/go-sslteam/internal/log"
)

var exampleUsage = `  sslteam vision --republish
  sslteam observe --interval 500ms
  sslteam drive --robot-id 3 --wheel 0.05 --radio-transport websocket --radio-url ws://127.0.0.1:8765/commands
  sslteam env --robot-id 0 --team yellow --episodes 5
  sslteam serve --config $HOME/.sslteam/config.toml --web-addr :8080`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries the flag-bound configuration shared by every subcommand.
type app struct {
	cfg     config.Config
	cfgPath string
}

func main() {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:           "sslteam",
		Short:         "Real-time control stack for an SSL robot team",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.addFlags(root.PersistentFlags())

	root.AddCommand(
		newVisionCmd(a),
		newObserveCmd(a),
		newDriveCmd(a),
		newEnvCmd(a),
		newServeCmd(a),
	)

	if err := root.Execute(); err != nil {
		log.Error("sslteam", "error", err)
		os.Exit(1)
	}
}

func (a *app) addFlags(fs *pflag.FlagSet) {
	c := &a.cfg
	fs.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.sslteam/config.toml)")

	fs.StringVar(&c.Vision.Group, "vision-group", c.Vision.Group, "SSL-Vision multicast group")
	fs.IntVar(&c.Vision.Port, "vision-port", c.Vision.Port, "SSL-Vision multicast port")
	fs.StringVar(&c.Vision.Interface, "iface", c.Vision.Interface, "network interface to join the group on (optional)")
	fs.BoolVar(&c.Vision.Loopback, "loopback", c.Vision.Loopback, "receive multicast sent from this host")
	fs.StringVar(&c.Vision.RepublishGroup, "republish-group", c.Vision.RepublishGroup, "multicast group for republished packets")
	fs.IntVar(&c.Vision.RepublishPort, "republish-port", c.Vision.RepublishPort, "multicast port for republished packets")
	fs.IntVar(&c.Vision.TTL, "ttl", c.Vision.TTL, "multicast TTL for republished packets")
	fs.IntVar(&c.Vision.QueueCapacity, "queue-capacity", c.Vision.QueueCapacity, "per-subscriber queue capacity (0 = unbounded)")
	fs.StringVar(&c.Vision.QueuePolicy, "queue-policy", c.Vision.QueuePolicy, "full-queue policy: drop-oldest, drop-newest or block")

	fs.StringVar(&c.Radio.Transport, "radio-transport", c.Radio.Transport, "radio transport: grpc or websocket")
	fs.StringVar(&c.Radio.Address, "radio-addr", c.Radio.Address, "gRPC radio target")
	fs.StringVar(&c.Radio.URL, "radio-url", c.Radio.URL, "websocket radio URL")
	fs.DurationVar(&c.Radio.Period, "period", c.Radio.Period, "command send period")

	fs.Float64Var(&c.Filter.Ball.FrictionDecel, "ball-friction-decel", c.Filter.Ball.FrictionDecel, "ball rolling friction deceleration (mm/s^2)")
	fs.Float64Var(&c.Filter.Ball.ProcessVariance, "ball-process-variance", c.Filter.Ball.ProcessVariance, "ball filter process variance")
	fs.Float64Var(&c.Filter.Ball.MeasurementVariance, "ball-measurement-variance", c.Filter.Ball.MeasurementVariance, "ball filter measurement variance (mm^2)")

	fs.StringVar(&c.Web.Addr, "web-addr", c.Web.Addr, "visualizer listen address")
	fs.StringVar(&c.Web.StaticDir, "static-dir", c.Web.StaticDir, "directory served at / (optional)")
	fs.DurationVar(&c.Web.StatsPeriod, "stats-period", c.Web.StatsPeriod, "stats broadcast period")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level: debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format: text or json")
}

// load layers file and environment over the parsed flags, validates the
// result and initialises logging.
func (a *app) load(cmd *cobra.Command) (config.Config, config.Loader, error) {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	path := a.cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	l := config.Loader{Path: path, Base: a.cfg, Changed: changed}
	cfg, err := l.Load()
	if err != nil {
		return cfg, l, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)
	log.Debug("configuration loaded", "path", path, "file", config.FileExists(path))
	return cfg, l, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runAll runs every fn until ctx is done or one of them returns, then
// cancels the rest and returns the first error. Cancellation is not an error.
func runAll(ctx context.Context, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		g.Go(func() error {
			defer cancel()
			err := fn(gctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
