package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func load(t *testing.T, role Role, args ...string) (Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return Load(role, fs)
}

func TestDefaults(t *testing.T) {
	c, err := load(t, RoleParticipant)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.MaxRetries != 3 || c.RetryDelay != 2*time.Second || c.GatherTimeout != 3*time.Second {
		t.Errorf("negotiation defaults = %d %s %s", c.MaxRetries, c.RetryDelay, c.GatherTimeout)
	}
	if c.RetryJitter != 0 {
		t.Errorf("RetryJitter = %s, want 0", c.RetryJitter)
	}
	if c.Radius != 100 || c.TickInterval != 50*time.Millisecond {
		t.Errorf("proximity defaults = %v %s", c.Radius, c.TickInterval)
	}
	if !slices.Equal(c.ICEServers, DefaultICEServers) {
		t.Errorf("ICEServers = %v", c.ICEServers)
	}
	if c.SessionID == "" {
		t.Error("no session id generated")
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PROXIMITY_ROOM", "from-env")
	t.Setenv("PROXIMITY_SESSION_ID", "env-id")
	t.Setenv("PROXIMITY_RETRY_DELAY", "5s")

	c, err := load(t, RoleParticipant, "--room", "from-flag")
	if err != nil {
		t.Fatal(err)
	}
	if c.Room != "from-flag" {
		t.Errorf("Room = %q", c.Room)
	}
	if c.SessionID != "env-id" {
		t.Errorf("SessionID = %q", c.SessionID)
	}
	if c.RetryDelay != 5*time.Second {
		t.Errorf("RetryDelay = %s", c.RetryDelay)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proximity.yaml")
	body := "room: standup\nradius: 250\nice-servers:\n  - stun:example.org:3478\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := load(t, RoleParticipant, "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Room != "standup" || c.Radius != 250 {
		t.Errorf("file values not applied: room=%q radius=%v", c.Room, c.Radius)
	}
	if !slices.Equal(c.ICEServers, []string{"stun:example.org:3478"}) {
		t.Errorf("ICEServers = %v", c.ICEServers)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := load(t, RoleParticipant, "--config", "/nonexistent/proximity.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	base, err := load(t, RoleParticipant)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"http url", func(c *Config) { c.URL = "http://x/ws" }, "ws or wss"},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, "max-retries"},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }, "tick-interval"},
		{"negative jitter", func(c *Config) { c.RetryJitter = -time.Second }, "retry-jitter"},
		{"negative share interval", func(c *Config) { c.ShareInterval = -time.Second }, "share-interval"},
		{"video file without video", func(c *Config) { c.VideoFile = "clip.ivf"; c.Video = false }, "video-file"},
		{"zero radius", func(c *Config) { c.Radius = 0 }, "radius"},
		{"relay without listen", func(c *Config) { c.Role = RoleRelay; c.Listen = "" }, "listen"},
		{"unknown role", func(c *Config) { c.Role = "host" }, "unknown role"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
