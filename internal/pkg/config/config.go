package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scene     SceneConfig     `mapstructure:"scene"`
	Session   SessionConfig   `mapstructure:"session"`
	Range     RangeConfig     `mapstructure:"range"`
	Placement PlacementConfig `mapstructure:"placement"`
	Feed      FeedConfig      `mapstructure:"feed"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Session string `mapstructure:"session"` // suffix for ar.inrange.<session>
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Enabled      bool   `mapstructure:"enabled"`
}

type SceneConfig struct {
	MaxObjects    int           `mapstructure:"max_objects"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
}

type SessionConfig struct {
	MaxRetries int             `mapstructure:"max_retries"`
	Backoff    []time.Duration `mapstructure:"backoff"`
}

type RangeConfig struct {
	// NearbyRadius is the radius of the nearby-agent query run on each fix.
	NearbyRadius float64 `mapstructure:"nearby_radius"`
	NearbyLimit  int     `mapstructure:"nearby_limit"`
}

type PlacementConfig struct {
	MaxDistance     float64 `mapstructure:"max_distance"`
	NearDistance    float64 `mapstructure:"near_distance"`
	NominalDistance float64 `mapstructure:"nominal_distance"`
	FloorDistance   float64 `mapstructure:"floor_distance"`
	NearScale       float64 `mapstructure:"near_scale"`
	FloorScale      float64 `mapstructure:"floor_scale"`
	JitterFraction  float64 `mapstructure:"jitter_fraction"`
}

// FeedConfig drives cmd/feedrelay.
type FeedConfig struct {
	URL          string        `mapstructure:"url"`
	Region       string        `mapstructure:"region"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GEOAR_SCENE_MAX_OBJECTS → scene.max_objects
	v.SetEnvPrefix("GEOAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "geoar")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "geoar")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.session", "default")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "agent-models")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("scene.max_objects", 20)
	v.SetDefault("scene.load_timeout", "10s")
	v.SetDefault("scene.frame_interval", "33ms")
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.backoff", []string{"1s", "2s", "4s"})
	v.SetDefault("range.nearby_radius", 150.0)
	v.SetDefault("range.nearby_limit", 200)
	v.SetDefault("placement.max_distance", 150.0)
	v.SetDefault("placement.near_distance", 10.0)
	v.SetDefault("placement.nominal_distance", 50.0)
	v.SetDefault("placement.floor_distance", 100.0)
	v.SetDefault("placement.near_scale", 1.2)
	v.SetDefault("placement.floor_scale", 0.4)
	v.SetDefault("placement.jitter_fraction", 0.3)
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.region", "default")
	v.SetDefault("feed.poll_interval", "5s")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.MinIO.Endpoint != "" && c.MinIO.Bucket == "" {
		errs = append(errs, "minio.bucket is required when minio.endpoint is set")
	}
	if c.Scene.MaxObjects <= 0 {
		errs = append(errs, fmt.Sprintf("scene.max_objects must be positive, got %d", c.Scene.MaxObjects))
	}
	if c.Scene.LoadTimeout <= 0 {
		errs = append(errs, "scene.load_timeout must be positive")
	}
	if c.Scene.FrameInterval <= 0 {
		errs = append(errs, "scene.frame_interval must be positive")
	}
	if c.Session.MaxRetries < 0 {
		errs = append(errs, "session.max_retries must not be negative")
	}
	if c.Session.MaxRetries > 0 && len(c.Session.Backoff) == 0 {
		errs = append(errs, "session.backoff is required when retries are enabled")
	}
	for i, d := range c.Session.Backoff {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("session.backoff[%d] must be positive", i))
		}
	}
	if c.Range.NearbyRadius <= 0 {
		errs = append(errs, "range.nearby_radius must be positive")
	}
	p := c.Placement
	if !(p.NearDistance <= p.NominalDistance && p.NominalDistance < p.FloorDistance) {
		errs = append(errs, "placement distances must satisfy near <= nominal < floor")
	}
	if p.MaxDistance <= 0 {
		errs = append(errs, "placement.max_distance must be positive")
	}
	if p.FloorScale <= 0 || p.NearScale <= 0 {
		errs = append(errs, "placement scales must be positive")
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		errs = append(errs, "placement.jitter_fraction must be within [0,1]")
	}
	if c.Feed.PollInterval <= 0 {
		errs = append(errs, "feed.poll_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
