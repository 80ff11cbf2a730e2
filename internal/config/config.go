// Package config loads settings for the sslteam commands.
//
// Values are layered: Default, then the TOML file, then SSLTEAM_* environment
// variables, then command-line flags. A flag the user set explicitly is never
// overridden by the file or the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/filter"
	"github.com/teslashibe/go-sslteam/pkg/robot"
	"github.com/teslashibe/go-sslteam/pkg/vision"
)

// DefaultQueueCapacity bounds each vision subscriber so a stalled consumer
// loses old frames instead of growing without limit.
const DefaultQueueCapacity = 16

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Radio transports.
const (
	TransportGRPC      = "grpc"
	TransportWebSocket = "websocket"
)

// VisionConfig selects the multicast groups and subscriber queues.
type VisionConfig struct {
	Group          string
	Port           int
	Interface      string
	Loopback       bool
	RepublishGroup string
	RepublishPort  int
	TTL            int
	QueueCapacity  int    // 0 is unbounded and must be set explicitly
	QueuePolicy    string // drop-oldest, drop-newest or block
}

// RadioConfig selects how robot commands leave the process.
type RadioConfig struct {
	Transport string
	Address   string // gRPC target
	URL       string // websocket URL
	Period    time.Duration
}

// FilterConfig holds the tracker settings.
type FilterConfig struct {
	Ball    filter.BallSettings
	Unknown filter.RobotSettings
	Known   filter.RobotSettings
}

// WebConfig configures the visualizer API.
type WebConfig struct {
	Addr        string
	StaticDir   string
	StatsPeriod time.Duration
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string
	Format string
}

// Config is the full configuration.
type Config struct {
	Vision VisionConfig
	Radio  RadioConfig
	Filter FilterConfig
	Web    WebConfig
	Log    LogConfig
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Vision: VisionConfig{
			Group:          vision.DefaultGroup,
			Port:           vision.DefaultPort,
			RepublishGroup: vision.DefaultGroup,
			RepublishPort:  vision.DefaultRepublishPort,
			TTL:            vision.DefaultMulticastTTL,
			QueueCapacity:  DefaultQueueCapacity,
			QueuePolicy:    fanout.DropOldest.String(),
		},
		Radio: RadioConfig{
			Transport: TransportGRPC,
			Address:   "127.0.0.1:50051",
			URL:       "ws://127.0.0.1:8765/commands",
			Period:    robot.DefaultPeriod,
		},
		Filter: FilterConfig{
			Ball:    filter.DefaultBallSettings(),
			Unknown: filter.UnknownRobotSettings(),
			Known:   filter.KnownRobotSettings(),
		},
		Web: WebConfig{
			Addr:        ":8080",
			StatsPeriod: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if ip := net.ParseIP(c.Vision.Group); ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: vision group %q is not a multicast address", ErrInvalid, c.Vision.Group)
	}
	if ip := net.ParseIP(c.Vision.RepublishGroup); ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: republish group %q is not a multicast address", ErrInvalid, c.Vision.RepublishGroup)
	}
	for name, p := range map[string]int{"vision port": c.Vision.Port, "republish port": c.Vision.RepublishPort} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: %s must be in 1..65535, got %d", ErrInvalid, name, p)
		}
	}
	if c.Vision.TTL < 0 || c.Vision.TTL > 255 {
		return fmt.Errorf("%w: ttl must be in 0..255, got %d", ErrInvalid, c.Vision.TTL)
	}
	if c.Vision.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue capacity must be >= 0, got %d", ErrInvalid, c.Vision.QueueCapacity)
	}
	if _, err := fanout.ParsePolicy(c.Vision.QueuePolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch c.Radio.Transport {
	case TransportGRPC:
		if c.Radio.Address == "" {
			return fmt.Errorf("%w: radio address is required for grpc", ErrInvalid)
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.Radio.URL, "ws://") && !strings.HasPrefix(c.Radio.URL, "wss://") {
			return fmt.Errorf("%w: radio url %q must start with ws:// or wss://", ErrInvalid, c.Radio.URL)
		}
	default:
		return fmt.Errorf("%w: unknown radio transport %q", ErrInvalid, c.Radio.Transport)
	}
	if c.Radio.Period <= 0 {
		return fmt.Errorf("%w: radio period must be positive", ErrInvalid)
	}

	if err := c.Filter.Ball.Validate(); err != nil {
		return fmt.Errorf("%w: ball filter: %v", ErrInvalid, err)
	}
	if err := c.Filter.Unknown.Validate(); err != nil {
		return fmt.Errorf("%w: unknown robot filter: %v", ErrInvalid, err)
	}
	if err := c.Filter.Known.Validate(); err != nil {
		return fmt.Errorf("%w: known robot filter: %v", ErrInvalid, err)
	}

	if c.Web.StatsPeriod <= 0 {
		return fmt.Errorf("%w: web stats period must be positive", ErrInvalid)
	}
	return nil
}

// QueueOptions converts the vision queue settings to subscription options.
// Call after Validate.
func (c *Config) QueueOptions() []fanout.Option {
	p, _ := fanout.ParsePolicy(c.Vision.QueuePolicy)
	return []fanout.Option{fanout.WithCapacity(c.Vision.QueueCapacity), fanout.WithPolicy(p)}
}

// setter applies values while respecting flag precedence: a value is only
// written if the corresponding flag was not set on the command line.
type setter struct {
	changed map[string]bool
}

func newSetter(changed map[string]bool) *setter {
	return &setter{changed: changed}
}

func (s *setter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *setter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *setter) setFloat(flag string, value *float64, dst *float64) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *setter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *setter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *setter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

func (s *setter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = f
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *setter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
