package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/teslashibe/go-sslteam/pkg/filter"
)

// FileConfig mirrors Config with pointers for optional numbers and strings
// for durations.
type FileConfig struct {
	Vision struct {
		Group          string `toml:"group"`
		Port           *int   `toml:"port"`
		Interface      string `toml:"interface"`
		Loopback       *bool  `toml:"loopback"`
		RepublishGroup string `toml:"republish_group"`
		RepublishPort  *int   `toml:"republish_port"`
		TTL            *int   `toml:"ttl"`
		QueueCapacity  *int   `toml:"queue_capacity"`
		QueuePolicy    string `toml:"queue_policy"`
	} `toml:"vision"`
	Radio struct {
		Transport string `toml:"transport"`
		Address   string `toml:"address"`
		URL       string `toml:"url"`
		Period    string `toml:"period"`
	} `toml:"radio"`
	Filter struct {
		Ball struct {
			FrictionDecel       *float64 `toml:"friction_decel"`
			FrictionDeadzone    *float64 `toml:"friction_deadzone"`
			ProcessVariance     *float64 `toml:"process_variance"`
			MeasurementVariance *float64 `toml:"measurement_variance"`
			InitialVariance     *float64 `toml:"initial_variance"`
		} `toml:"ball"`
		Unknown fileRobotSettings `toml:"unknown_robot"`
		Known   fileRobotSettings `toml:"known_robot"`
	} `toml:"filter"`
	Web struct {
		Addr        string `toml:"addr"`
		StaticDir   string `toml:"static_dir"`
		StatsPeriod string `toml:"stats_period"`
	} `toml:"web"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

type fileRobotSettings struct {
	PositionVariance    *float64 `toml:"position_variance"`
	VelocityVariance    *float64 `toml:"velocity_variance"`
	AngVelVariance      *float64 `toml:"angvel_variance"`
	ThetaVariance       *float64 `toml:"theta_variance"`
	ConfidenceThreshold *float64 `toml:"confidence_threshold"`
	NoDataTimeout       string   `toml:"no_data_timeout"`
}

// LoadFile reads and parses a TOML config file.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultPath returns ~/.sslteam/config.toml, or "" without a home directory.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".sslteam", "config.toml")
	}
	return ""
}

// FileExists reports whether p exists.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ApplyFile copies the values present in fc into cfg, skipping any whose
// flag is in changed.
func ApplyFile(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newSetter(changed)

	v := fc.Vision
	s.setString("vision-group", v.Group, &cfg.Vision.Group)
	s.setInt("vision-port", v.Port, &cfg.Vision.Port)
	s.setString("iface", v.Interface, &cfg.Vision.Interface)
	s.setBool("loopback", v.Loopback, &cfg.Vision.Loopback)
	s.setString("republish-group", v.RepublishGroup, &cfg.Vision.RepublishGroup)
	s.setInt("republish-port", v.RepublishPort, &cfg.Vision.RepublishPort)
	s.setInt("ttl", v.TTL, &cfg.Vision.TTL)
	s.setInt("queue-capacity", v.QueueCapacity, &cfg.Vision.QueueCapacity)
	s.setString("queue-policy", v.QueuePolicy, &cfg.Vision.QueuePolicy)

	r := fc.Radio
	s.setString("radio-transport", r.Transport, &cfg.Radio.Transport)
	s.setString("radio-addr", r.Address, &cfg.Radio.Address)
	s.setString("radio-url", r.URL, &cfg.Radio.URL)
	if err := s.setDuration("period", r.Period, &cfg.Radio.Period); err != nil {
		return err
	}

	b := fc.Filter.Ball
	s.setFloat("ball-friction-decel", b.FrictionDecel, &cfg.Filter.Ball.FrictionDecel)
	s.setFloat("ball-friction-deadzone", b.FrictionDeadzone, &cfg.Filter.Ball.FrictionDeadzone)
	s.setFloat("ball-process-variance", b.ProcessVariance, &cfg.Filter.Ball.ProcessVariance)
	s.setFloat("ball-measurement-variance", b.MeasurementVariance, &cfg.Filter.Ball.MeasurementVariance)
	s.setFloat("ball-initial-variance", b.InitialVariance, &cfg.Filter.Ball.InitialVariance)

	if err := applyRobotSettings(s, "unknown", fc.Filter.Unknown, &cfg.Filter.Unknown); err != nil {
		return err
	}
	if err := applyRobotSettings(s, "known", fc.Filter.Known, &cfg.Filter.Known); err != nil {
		return err
	}

	w := fc.Web
	s.setString("web-addr", w.Addr, &cfg.Web.Addr)
	s.setString("static-dir", w.StaticDir, &cfg.Web.StaticDir)
	if err := s.setDuration("stats-period", w.StatsPeriod, &cfg.Web.StatsPeriod); err != nil {
		return err
	}

	s.setString("log-level", fc.Log.Level, &cfg.Log.Level)
	s.setString("log-format", fc.Log.Format, &cfg.Log.Format)
	return nil
}

// Robot filter presets have no flags; the prefix only keeps keys unique.
func applyRobotSettings(s *setter, prefix string, f fileRobotSettings, dst *filter.RobotSettings) error {
	s.setFloat(prefix+"-position-variance", f.PositionVariance, &dst.PositionVariance)
	s.setFloat(prefix+"-velocity-variance", f.VelocityVariance, &dst.VelocityVariance)
	s.setFloat(prefix+"-angvel-variance", f.AngVelVariance, &dst.AngVelVariance)
	s.setFloat(prefix+"-theta-variance", f.ThetaVariance, &dst.ThetaVariance)
	s.setFloat(prefix+"-confidence-threshold", f.ConfidenceThreshold, &dst.ConfidenceThreshold)
	return s.setDuration(prefix+"-no-data-timeout", f.NoDataTimeout, &dst.NoDataTimeout)
}
