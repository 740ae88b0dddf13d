// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Start-up configuration of the event core. Values are read once; a new
// configuration takes effect through a process hand-off, never in place.

package control

import (
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/affinity"
	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

// ListenConfig describes one listening endpoint.
type ListenConfig struct {
	Address        string `toml:"address"`
	Network        string `toml:"network" default:"tcp"`
	Backlog        int    `toml:"backlog"`
	RcvBuf         int    `toml:"rcvbuf"`
	SndBuf         int    `toml:"sndbuf"`
	KeepAlive      bool   `toml:"so_keepalive"`
	KeepIdle       int    `toml:"keepidle"`
	KeepIntvl      int    `toml:"keepintvl"`
	KeepCnt        int    `toml:"keepcnt"`
	DeferredAccept bool   `toml:"deferred"`
	PoolSize       int    `toml:"pool_size"`
	// PostAcceptTimeout is a Go duration string, e.g. "60s".
	PostAcceptTimeout string `toml:"post_accept_timeout"`
	AddrNtop          bool   `toml:"addr_ntop"`
}

// Config is the whole configuration surface.
type Config struct {
	Workers           int    `toml:"worker_processes" default:"1"`
	WorkerConnections int    `toml:"worker_connections" default:"512"`
	MultiAccept       bool   `toml:"multi_accept"`
	AcceptMutex       bool   `toml:"accept_mutex"`
	AcceptMutexDelay  string `toml:"accept_mutex_delay" default:"500ms"`
	Backend           string `toml:"use" default:"auto"`
	TimerResolution   string `toml:"timer_resolution"`
	MaxEvents         int    `toml:"max_events" default:"512"`
	ConnectionPool    int    `toml:"connection_pool_size" default:"256"`
	// CPUAffinity is "auto" or one binary mask per worker, e.g. "0001 0010".
	CPUAffinity       string `toml:"worker_cpu_affinity"`
	LogLevel          string `toml:"log_level" default:"info"`

	Listen []ListenConfig `toml:"listen"`
}

// DefaultConfig mirrors the usual production defaults; keep it in sync with
// the default tags, which apply to keys missing from a file.
func DefaultConfig() Config {
	return Config{
		Workers:           1,
		WorkerConnections: 512,
		AcceptMutex:       false,
		AcceptMutexDelay:  "500ms",
		Backend:           "auto",
		MaxEvents:         512,
		ConnectionPool:    256,
		LogLevel:          "info",
	}
}

// LoadConfig reads a TOML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and duration syntax.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.Wrapf(api.ErrInvalidArgument, "worker_processes %d", c.Workers)
	}
	if c.WorkerConnections <= len(c.Listen) {
		return errors.Wrapf(api.ErrInvalidArgument,
			"worker_connections %d leaves no room next to %d listeners", c.WorkerConnections, len(c.Listen))
	}
	for w := 0; w < c.Workers; w++ {
		if _, err := affinity.ForWorker(c.CPUAffinity, w); err != nil {
			return err
		}
	}
	for _, d := range []string{c.AcceptMutexDelay, c.TimerResolution} {
		if _, err := parseDuration(d); err != nil {
			return err
		}
	}
	for _, l := range c.Listen {
		if l.Address == "" {
			return errors.Wrap(api.ErrInvalidArgument, "listen without address")
		}
		if _, err := parseDuration(l.PostAcceptTimeout); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(api.ErrInvalidArgument, "duration %q", s)
	}
	return d, nil
}

// LoopConfig converts to the event loop parameters.
func (c Config) LoopConfig() event.LoopConfig {
	delay, _ := parseDuration(c.AcceptMutexDelay)
	res, _ := parseDuration(c.TimerResolution)
	return event.LoopConfig{
		Connections:      c.WorkerConnections,
		MultiAccept:      c.MultiAccept,
		AcceptMutex:      c.AcceptMutex && c.Workers > 1,
		AcceptMutexDelay: delay,
		TimerResolution:  res,
		MaxEvents:        c.MaxEvents,
		ArenaSize:        c.ConnectionPool,
	}
}

// Listenings builds registry entries that hand connections to handler.
func (c Config) Listenings(handler func(*event.Connection)) []*event.Listening {
	out := make([]*event.Listening, 0, len(c.Listen))
	for _, l := range c.Listen {
		timeout, _ := parseDuration(l.PostAcceptTimeout)
		out = append(out, &event.Listening{
			Network:           l.Network,
			Address:           l.Address,
			Backlog:           l.Backlog,
			RcvBuf:            l.RcvBuf,
			SndBuf:            l.SndBuf,
			KeepAlive:         l.KeepAlive,
			KeepIdle:          l.KeepIdle,
			KeepIntvl:         l.KeepIntvl,
			KeepCnt:           l.KeepCnt,
			DeferredAccept:    l.DeferredAccept,
			PoolSize:          l.PoolSize,
			PostAcceptTimeout: timeout,
			AddrNtop:          l.AddrNtop,
			Handler:           handler,
		})
	}
	return out
}

// Map flattens the configuration for the control plane.
func (c Config) Map() map[string]any {
	addrs := make([]string, 0, len(c.Listen))
	for _, l := range c.Listen {
		addrs = append(addrs, l.Address)
	}
	return map[string]any{
		"worker_processes":     c.Workers,
		"worker_connections":   c.WorkerConnections,
		"multi_accept":         c.MultiAccept,
		"accept_mutex":         c.AcceptMutex,
		"accept_mutex_delay":   c.AcceptMutexDelay,
		"use":                  c.Backend,
		"timer_resolution":     c.TimerResolution,
		"max_events":           c.MaxEvents,
		"connection_pool_size": c.ConnectionPool,
		"worker_cpu_affinity":  c.CPUAffinity,
		"listen":               addrs,
	}
}

// ConfigStore serves a read-only snapshot of the active configuration.
type ConfigStore struct {
	mu     sync.RWMutex
	config map[string]any
}

// NewConfigStore snapshots cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg.Map()}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Annotate records a derived runtime value, such as the selected backend.
func (cs *ConfigStore) Annotate(key string, value any) {
	cs.mu.Lock()
	cs.config[key] = value
	cs.mu.Unlock()
}
