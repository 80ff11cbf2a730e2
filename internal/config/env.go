package config

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "SSLTEAM_"

// ApplyEnv copies SSLTEAM_* variables into cfg, skipping any whose flag is in
// changed.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("vision-group", env("VISION_GROUP"), &cfg.Vision.Group)
	if err := s.setIntFromString("vision-port", env("VISION_PORT"), &cfg.Vision.Port); err != nil {
		return err
	}
	s.setString("iface", env("IFACE"), &cfg.Vision.Interface)
	s.setBoolFromString("loopback", env("LOOPBACK"), &cfg.Vision.Loopback)
	s.setString("republish-group", env("REPUBLISH_GROUP"), &cfg.Vision.RepublishGroup)
	if err := s.setIntFromString("republish-port", env("REPUBLISH_PORT"), &cfg.Vision.RepublishPort); err != nil {
		return err
	}
	if err := s.setIntFromString("ttl", env("TTL"), &cfg.Vision.TTL); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-capacity", env("QUEUE_CAPACITY"), &cfg.Vision.QueueCapacity); err != nil {
		return err
	}
	s.setString("queue-policy", env("QUEUE_POLICY"), &cfg.Vision.QueuePolicy)

	s.setString("radio-transport", env("RADIO_TRANSPORT"), &cfg.Radio.Transport)
	s.setString("radio-addr", env("RADIO_ADDR"), &cfg.Radio.Address)
	s.setString("radio-url", env("RADIO_URL"), &cfg.Radio.URL)
	if err := s.setDuration("period", env("PERIOD"), &cfg.Radio.Period); err != nil {
		return err
	}

	for _, f := range []struct {
		flag, name string
		dst        *float64
	}{
		{"ball-friction-decel", "BALL_FRICTION_DECEL", &cfg.Filter.Ball.FrictionDecel},
		{"ball-friction-deadzone", "BALL_FRICTION_DEADZONE", &cfg.Filter.Ball.FrictionDeadzone},
		{"ball-process-variance", "BALL_PROCESS_VARIANCE", &cfg.Filter.Ball.ProcessVariance},
		{"ball-measurement-variance", "BALL_MEASUREMENT_VARIANCE", &cfg.Filter.Ball.MeasurementVariance},
		{"ball-initial-variance", "BALL_INITIAL_VARIANCE", &cfg.Filter.Ball.InitialVariance},
	} {
		if err := s.setFloatFromString(f.flag, env(f.name), f.dst); err != nil {
			return err
		}
	}

	s.setString("web-addr", env("WEB_ADDR"), &cfg.Web.Addr)
	s.setString("static-dir", env("STATIC_DIR"), &cfg.Web.StaticDir)
	if err := s.setDuration("stats-period", env("STATS_PERIOD"), &cfg.Web.StatsPeriod); err != nil {
		return err
	}

	s.setString("log-level", env("LOG_LEVEL"), &cfg.Log.Level)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.Log.Format)
	return nil
}
