// Package config loads service configuration from an optional YAML file
// and TRACKGO_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/trackgo/internal/httputil"
)

// Config is the full service configuration.
type Config struct {
	Station   Station   `yaml:"station"`
	Tracking  Tracking  `yaml:"tracking"`
	Mount     Mount     `yaml:"mount"`
	Keyhole   Keyhole   `yaml:"keyhole"`
	Scheduler Scheduler `yaml:"scheduler"`
	Store     Store     `yaml:"store"`
	Link      Link      `yaml:"link"`
	MQTT      MQTT      `yaml:"mqtt"`
	HTTP      HTTP      `yaml:"http"`
	Auth      Auth      `yaml:"auth"`
	Logging   Logging   `yaml:"logging"`
	TLE       TLE       `yaml:"tle"`
}

// Station is the antenna site.
type Station struct {
	Latitude  float64 `yaml:"latitude"`  // degrees north
	Longitude float64 `yaml:"longitude"` // degrees east
	Altitude  float64 `yaml:"altitude"`  // meters
}

// Tracking controls the visibility scan and the tracking data generator.
type Tracking struct {
	Horizon         time.Duration `yaml:"horizon"`
	MinElevation    float64       `yaml:"min_elevation"`
	CoarseStep      time.Duration `yaml:"coarse_step"`
	FineStep        time.Duration `yaml:"fine_step"`
	MinPassDuration time.Duration `yaml:"min_pass_duration"`
	MaxWindows      int           `yaml:"max_windows"`
	Interval        time.Duration `yaml:"interval"`
}

// Mount describes the 3-axis pedestal.
type Mount struct {
	Tilt            float64 `yaml:"tilt"`
	RefOffset       float64 `yaml:"ref_offset"`
	TravelLimit     float64 `yaml:"travel_limit"`
	AzRateThreshold float64 `yaml:"az_rate_threshold"`
}

// Keyhole controls the train-angle search.
type Keyhole struct {
	Optimize bool `yaml:"optimize"`
	Workers  int  `yaml:"workers"`
}

// Scheduler controls generation runs.
type Scheduler struct {
	Workers         int           `yaml:"workers"`
	FirstPassID     int64         `yaml:"first_pass_id"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // zero disables periodic runs
	Satellites      []int         `yaml:"satellites"`       // empty means every loaded set
}

// Store bounds the in-memory pass store.
type Store struct {
	MaxPasses int           `yaml:"max_passes"`
	TTL       time.Duration `yaml:"ttl"`
}

// Link is the UDP controller connection.
type Link struct {
	Enabled     bool   `yaml:"enabled"`
	Local       string `yaml:"local"`
	Remote      string `yaml:"remote"`
	EventBuffer int    `yaml:"event_buffer"`
}

// MQTT is the optional broker mirror.
type MQTT struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	StatusInterval time.Duration `yaml:"status_interval"`
	TLS            MQTTTLS       `yaml:"tls"`
}

// MQTTTLS holds broker TLS file paths.
type MQTTTLS struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// HTTP is the API listener and its streaming limits.
type HTTP struct {
	Addr               string        `yaml:"addr"`
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	BandwidthLimit     int           `yaml:"bandwidth_limit"` // bytes per second per stream
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	StatusInterval     time.Duration `yaml:"status_interval"`
	TrustedProxies     []string      `yaml:"trusted_proxies"` // addresses or CIDR prefixes
}

// Auth is bearer-token protection for mutating endpoints.
type Auth struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// Logging mirrors logging.Config.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	AddSource  bool   `yaml:"add_source"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TLE is the element-set source.
type TLE struct {
	File            string        `yaml:"file"`
	EnableFetch     bool          `yaml:"enable_fetch"`
	SourceURL       string        `yaml:"source_url"`
	ExtraURLs       []string      `yaml:"extra_urls"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ArchiveDir      string        `yaml:"archive_dir"`  // fetched snapshots; empty disables
	ArchiveKeep     int           `yaml:"archive_keep"` // snapshots retained
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Tracking: Tracking{
			Horizon:         24 * time.Hour,
			MinElevation:    0,
			CoarseStep:      30 * time.Second,
			FineStep:        time.Second,
			MinPassDuration: 30 * time.Second,
			Interval:        100 * time.Millisecond,
		},
		Mount: Mount{
			Tilt:            10,
			RefOffset:       7,
			TravelLimit:     270,
			AzRateThreshold: 2,
		},
		Keyhole: Keyhole{
			Optimize: true,
			Workers:  runtime.NumCPU(),
		},
		Scheduler: Scheduler{
			Workers:     runtime.NumCPU(),
			FirstPassID: 1,
		},
		Store: Store{
			MaxPasses: 10000,
			TTL:       48 * time.Hour,
		},
		Link: Link{
			Local:       ":4002",
			EventBuffer: 64,
		},
		MQTT: MQTT{
			TopicPrefix:    "trackgo",
			StatusInterval: time.Second,
		},
		HTTP: HTTP{
			Addr:               ":8080",
			MaxConcurrentPerIP: 10,
			BandwidthLimit:     1048576,
			KeepaliveInterval:  30 * time.Second,
			StatusInterval:     time.Second,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  64,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		TLE: TLE{
			SourceURL:       "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle",
			RefreshInterval: 6 * time.Hour,
			ArchiveKeep:     5,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, applies
// environment overrides and validates the result.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv, logger)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode rejects unknown keys so a typo does not silently keep a default.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Station.Latitude >= -90 && c.Station.Latitude <= 90, "station.latitude %v out of range", c.Station.Latitude)
	check(c.Station.Longitude >= -180 && c.Station.Longitude <= 180, "station.longitude %v out of range", c.Station.Longitude)

	check(c.Tracking.Horizon > 0, "tracking.horizon must be positive")
	check(c.Tracking.MinElevation >= -5 && c.Tracking.MinElevation < 90, "tracking.min_elevation %v out of range", c.Tracking.MinElevation)
	check(c.Tracking.CoarseStep > 0 && c.Tracking.FineStep > 0, "tracking steps must be positive")
	check(c.Tracking.FineStep <= c.Tracking.CoarseStep, "tracking.fine_step must not exceed coarse_step")
	check(c.Tracking.Interval > 0, "tracking.interval must be positive")
	check(c.Tracking.MaxWindows >= 0, "tracking.max_windows must not be negative")

	check(c.Mount.Tilt >= 0 && c.Mount.Tilt < 90, "mount.tilt %v out of range", c.Mount.Tilt)
	check(c.Mount.TravelLimit >= 180 && c.Mount.TravelLimit <= 360, "mount.travel_limit %v must be in [180, 360]", c.Mount.TravelLimit)
	check(c.Mount.AzRateThreshold > 0, "mount.az_rate_threshold must be positive")

	check(c.Keyhole.Workers >= 0, "keyhole.workers must not be negative")
	check(c.Scheduler.Workers >= 0, "scheduler.workers must not be negative")
	check(c.Scheduler.RefreshInterval >= 0, "scheduler.refresh_interval must not be negative")
	check(c.Scheduler.FirstPassID >= 0 && c.Scheduler.FirstPassID <= math.MaxUint32, "scheduler.first_pass_id %d must be in [0, %d]", c.Scheduler.FirstPassID, uint32(math.MaxUint32))
	check(c.Store.MaxPasses > 0, "store.max_passes must be positive")

	check(!c.Link.Enabled || c.Link.Remote != "", "link.remote is required when the link is enabled")
	check(c.Link.EventBuffer > 0, "link.event_buffer must be positive")
	check(!c.MQTT.Enabled || c.MQTT.Broker != "", "mqtt.broker is required when mqtt is enabled")
	check(c.MQTT.QoS <= 2, "mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	check(!c.Auth.Enabled || c.Auth.Token != "", "auth.token is required when auth is enabled")
	check(!c.TLE.EnableFetch || c.TLE.SourceURL != "", "tle.source_url is required when fetching is enabled")
	check(c.TLE.ArchiveKeep >= 0, "tle.archive_keep must not be negative")
	if _, err := httputil.ParseProxies(c.HTTP.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("http.trusted_proxies: %w", err))
	}

	return errors.Join(errs...)
}

// applyEnv overrides fields from TRACKGO_* variables. An invalid value is
// logged and the previous value kept.
func applyEnv(c *Config, getenv func(string) string, logger *slog.Logger) {
	e := envReader{getenv: getenv, logger: logger}

	e.float("TRACKGO_STATION_LAT", &c.Station.Latitude)
	e.float("TRACKGO_STATION_LON", &c.Station.Longitude)
	e.float("TRACKGO_STATION_ALT", &c.Station.Altitude)

	e.duration("TRACKGO_HORIZON", &c.Tracking.Horizon)
	e.float("TRACKGO_MIN_ELEVATION", &c.Tracking.MinElevation)
	e.duration("TRACKGO_COARSE_STEP", &c.Tracking.CoarseStep)
	e.duration("TRACKGO_FINE_STEP", &c.Tracking.FineStep)
	e.duration("TRACKGO_MIN_PASS_DURATION", &c.Tracking.MinPassDuration)
	e.duration("TRACKGO_INTERVAL", &c.Tracking.Interval)
	e.integer("TRACKGO_MAX_WINDOWS", &c.Tracking.MaxWindows)

	e.float("TRACKGO_MOUNT_TILT", &c.Mount.Tilt)
	e.float("TRACKGO_MOUNT_REF_OFFSET", &c.Mount.RefOffset)
	e.float("TRACKGO_MOUNT_TRAVEL_LIMIT", &c.Mount.TravelLimit)
	e.float("TRACKGO_AZ_RATE_THRESHOLD", &c.Mount.AzRateThreshold)

	e.boolean("TRACKGO_KEYHOLE_OPTIMIZE", &c.Keyhole.Optimize)
	e.integer("TRACKGO_KEYHOLE_WORKERS", &c.Keyhole.Workers)

	e.integer("TRACKGO_SCHEDULER_WORKERS", &c.Scheduler.Workers)
	e.integer64("TRACKGO_FIRST_PASS_ID", &c.Scheduler.FirstPassID)
	e.duration("TRACKGO_REFRESH_INTERVAL", &c.Scheduler.RefreshInterval)
	e.intList("TRACKGO_SATELLITES", &c.Scheduler.Satellites)

	e.integer("TRACKGO_STORE_MAX_PASSES", &c.Store.MaxPasses)
	e.duration("TRACKGO_STORE_TTL", &c.Store.TTL)

	e.boolean("TRACKGO_LINK_ENABLED", &c.Link.Enabled)
	e.str("TRACKGO_LINK_LOCAL", &c.Link.Local)
	e.str("TRACKGO_LINK_REMOTE", &c.Link.Remote)

	e.boolean("TRACKGO_MQTT_ENABLED", &c.MQTT.Enabled)
	e.str("TRACKGO_MQTT_BROKER", &c.MQTT.Broker)
	e.str("TRACKGO_MQTT_USERNAME", &c.MQTT.Username)
	e.str("TRACKGO_MQTT_PASSWORD", &c.MQTT.Password)
	e.str("TRACKGO_MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	e.str("TRACKGO_HTTP_ADDR", &c.HTTP.Addr)
	e.integer("TRACKGO_STREAM_MAX_CONCURRENT", &c.HTTP.MaxConcurrentPerIP)
	e.integer("TRACKGO_STREAM_BANDWIDTH_LIMIT", &c.HTTP.BandwidthLimit)
	e.duration("TRACKGO_STREAM_KEEPALIVE_INTERVAL", &c.HTTP.KeepaliveInterval)
	e.strList("TRACKGO_TRUSTED_PROXIES", &c.HTTP.TrustedProxies)

	e.boolean("TRACKGO_AUTH_ENABLED", &c.Auth.Enabled)
	e.str("TRACKGO_AUTH_TOKEN", &c.Auth.Token)

	e.str("TRACKGO_LOG_LEVEL", &c.Logging.Level)
	e.str("TRACKGO_LOG_FORMAT", &c.Logging.Format)
	e.str("TRACKGO_LOG_FILE", &c.Logging.File)

	e.str("TRACKGO_TLE_FILE", &c.TLE.File)
	e.boolean("TRACKGO_ENABLE_TLE_FETCH", &c.TLE.EnableFetch)
	e.str("TRACKGO_TLE_SOURCE_URL", &c.TLE.SourceURL)
	e.strList("TRACKGO_TLE_EXTRA_URLS", &c.TLE.ExtraURLs)
	e.duration("TRACKGO_TLE_REFRESH_INTERVAL", &c.TLE.RefreshInterval)
	e.str("TRACKGO_TLE_ARCHIVE_DIR", &c.TLE.ArchiveDir)
	e.integer("TRACKGO_TLE_ARCHIVE_KEEP", &c.TLE.ArchiveKeep)
}

type envReader struct {
	getenv func(string) string
	logger *slog.Logger
}

func (e envReader) invalid(name, v string, def any) {
	e.logger.Warn("invalid "+name+" value, using default", "value", v, "default", def)
}

func (e envReader) str(name string, dst *string) {
	if v := e.getenv(name); v != "" {
		*dst = v
	}
}

func (e envReader) float(name string, dst *float64) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.invalid(name, v, *dst)
		return
	}
	*dst = f
}

func (e envReader) integer(name string, dst *int) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.invalid(name, v, *dst)
		return
	}
	*dst = n
}

func (e envReader) integer64(name string, dst *int64) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		e.invalid(name, v, *dst)
		return
	}
	*dst = n
}

func (e envReader) boolean(name string, dst *bool) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(name, v, *dst)
		return
	}
	*dst = b
}

// duration accepts Go duration syntax or a bare number of seconds.
func (e envReader) duration(name string, dst *time.Duration) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.invalid(name, v, dst.String())
		return
	}
	*dst = d
}

func (e envReader) strList(name string, dst *[]string) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e envReader) intList(name string, dst *[]int) {
	v := e.getenv(name)
	if v == "" {
		return
	}
	var out []int
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			e.invalid(name, v, *dst)
			return
		}
		out = append(out, n)
	}
	*dst = out
}
