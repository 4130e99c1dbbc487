// Package config loads participant and relay settings from flags,
// environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Role selects what the process runs.
type Role string

const (
	RoleRelay       Role = "serve"
	RoleParticipant Role = "join"
)

// EnvPrefix prefixes every environment override, e.g. PROXIMITY_ROOM.
const EnvPrefix = "PROXIMITY"

// DefaultICEServers are public STUN servers. No TURN is configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config is the merged configuration. Field tags name the flag, env and
// file keys.
type Config struct {
	Role Role `mapstructure:"-"`

	// Relay
	Listen string `mapstructure:"listen"`

	// Participant
	URL       string  `mapstructure:"url"`
	Room      string  `mapstructure:"room"`
	Name      string  `mapstructure:"name"`
	SessionID string  `mapstructure:"session-id"`
	StartX    float64 `mapstructure:"x"`
	StartY    float64 `mapstructure:"y"`
	Wander    bool    `mapstructure:"wander"`
	Video     bool    `mapstructure:"video"`
	Audio     bool    `mapstructure:"audio"`

	// Media files
	VideoFile     string        `mapstructure:"video-file"`
	ScreenFile    string        `mapstructure:"screen-file"`
	ShareInterval time.Duration `mapstructure:"share-interval"`

	// Negotiation
	ICEServers    []string      `mapstructure:"ice-servers"`
	MaxRetries    int           `mapstructure:"max-retries"`
	RetryDelay    time.Duration `mapstructure:"retry-delay"`
	RetryJitter   time.Duration `mapstructure:"retry-jitter"`
	GatherTimeout time.Duration `mapstructure:"gather-timeout"`

	// Proximity
	TickInterval time.Duration `mapstructure:"tick-interval"`
	Radius       float64       `mapstructure:"radius"`

	Debug bool `mapstructure:"debug"`
}

// RegisterFlags defines every setting on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, json or toml)")

	fs.String("listen", ":8080", "relay listen address")

	fs.String("url", "ws://localhost:8080/ws", "relay WebSocket URL")
	fs.String("room", "lobby", "room code to join")
	fs.String("name", "guest", "display name")
	fs.String("session-id", "", "stable session id (default: random UUID)")
	fs.Float64("x", 0, "starting x position")
	fs.Float64("y", 0, "starting y position")
	fs.Bool("wander", false, "random-walk around the room")
	fs.Bool("video", true, "send a video track")
	fs.Bool("audio", true, "send an audio track")
	fs.String("video-file", "", "VP8 IVF clip played as the camera feed")
	fs.String("screen-file", "", "VP8 IVF clip shared in place of the camera")
	fs.Duration("share-interval", 0, "flip between camera and screen at this interval (0: share once)")

	fs.StringSlice("ice-servers", DefaultICEServers, "STUN/TURN server URLs")
	fs.Int("max-retries", 3, "failed attempts before a peer is abandoned")
	fs.Duration("retry-delay", 2*time.Second, "delay before retrying a failed peer")
	fs.Duration("retry-jitter", 0, "extra random retry delay, up to this much")
	fs.Duration("gather-timeout", 3*time.Second, "longest wait for ICE gathering before sending an offer")

	fs.Duration("tick-interval", 50*time.Millisecond, "proximity recomputation interval")
	fs.Float64("radius", 100, "proximity radius in world units")

	fs.BoolP("debug", "d", false, "enable debug logging")
}

// Load merges defaults, the config file, PROXIMITY_* environment
// variables and explicitly set flags, in increasing precedence, then
// validates the result for role.
func Load(role Role, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.Role = role
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c, c.Validate()
}

// Validate checks the fields role needs.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleRelay:
		if c.Listen == "" {
			errs = append(errs, errors.New("listen address is required"))
		}
	case RoleParticipant:
		u, err := url.Parse(c.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("url %q must use ws or wss", c.URL))
		}
		if c.SessionID == "" {
			errs = append(errs, errors.New("session id is required"))
		}
		if c.MaxRetries < 1 {
			errs = append(errs, fmt.Errorf("max-retries must be at least 1, got %d", c.MaxRetries))
		}
		for name, d := range map[string]time.Duration{
			"retry-delay":    c.RetryDelay,
			"gather-timeout": c.GatherTimeout,
			"tick-interval":  c.TickInterval,
		} {
			if d <= 0 {
				errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
			}
		}
		if c.RetryJitter < 0 {
			errs = append(errs, fmt.Errorf("retry-jitter must not be negative"))
		}
		if c.ShareInterval < 0 {
			errs = append(errs, fmt.Errorf("share-interval must not be negative"))
		}
		if c.VideoFile != "" && !c.Video {
			errs = append(errs, errors.New("video-file needs --video"))
		}
		if c.Radius <= 0 {
			errs = append(errs, fmt.Errorf("radius must be positive, got %v", c.Radius))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", c.Role))
	}

	return errors.Join(errs...)
}
