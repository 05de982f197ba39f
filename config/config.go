/*
Package config implements a parser for pppctld configuration represented
in the TOML format: https://github.com/toml-lang/toml.

Please refer to the TOML repo for an in-depth description of the syntax.

The daemon's own settings live in a single [daemon] table. Per-service
persisted option setup is named with TOML tables under [service.<id>.<entity>],
one table per option entity (e.g. "PPP", "Modem", "IPv4"), each a flat
key:value map of properties for that entity. This mirrors the teacher's
tunnel/session table layout, generalised from "one L2TP tunnel per table"
to "one option entity per table".

	[daemon]

	# control_socket is the filesystem path of the client control socket.
	control_socket = "/var/run/pppctld.sock"

	# control_socket_mode is the Unix permission bits applied to the
	# control socket after it is created.
	control_socket_mode = 0666

	# listen's host part is the local address outbound L2TP control
	# tunnels bind to, each on an ephemeral port; its port is not bound.
	listen = "0.0.0.0:1701"

	# This is the persisted option setup for a service named "isp1".
	[service.isp1.PPP]
	auth = "chap"
	mtu = 1492

	[service.isp1.Modem]
	speed = 57600
	dial_string = "ATDT5551234"
*/
package config

import (
	"fmt"

	"github.com/pelletier/go-toml"

	"github.com/go-ppp/pppctld/option"
)

// DaemonConfig holds the supervisor's own settings.
type DaemonConfig struct {
	ControlSocket     string
	ControlSocketMode uint32
	Listen            string
}

// Config is the parsed configuration tree: the daemon's own settings
// plus the persisted option setup for every named service.
type Config struct {
	// Map is the entire tree as parsed from the TOML representation.
	// Apps may access this tree to handle their own config tables.
	Map    map[string]interface{}
	Daemon DaemonConfig
	// Setup maps service id -> entity -> property -> value.
	Setup map[string]map[string]map[string]option.Value
}

func toString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("supplied value could not be parsed as a string")
}

// go-toml's ToMap function represents numbers as either uint64 or int64,
// so conversions must handle both and range check against the
// destination width, exactly as the teacher's toUint32 etc. do.
func toUint32(v interface{}) (uint32, error) {
	if b, ok := v.(int64); ok {
		if b < 0 || b > 0xffffffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint32(b), nil
	} else if b, ok := v.(uint64); ok {
		if b > 0xffffffff {
			return 0, fmt.Errorf("value %x out of range", b)
		}
		return uint32(b), nil
	}
	return 0, fmt.Errorf("unexpected %T value %v", v, v)
}

func toValue(v interface{}) (option.Value, error) {
	switch t := v.(type) {
	case string:
		return option.String(t), nil
	case int64:
		u, err := toUint32(v)
		return option.U32(u), err
	case uint64:
		u, err := toUint32(v)
		return option.U32(u), err
	case bool:
		if t {
			return option.U32(1), nil
		}
		return option.U32(0), nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, err := toString(e)
			if err != nil {
				return option.Value{}, fmt.Errorf("expected a string list: %v", err)
			}
			out = append(out, s)
		}
		return option.StringList(out), nil
	}
	return option.Value{}, fmt.Errorf("unexpected %T value %v", v, v)
}

func loadEntity(props map[string]interface{}) (map[string]option.Value, error) {
	out := make(map[string]option.Value, len(props))
	for k, v := range props {
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to process %v: %v", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func loadService(entities map[string]interface{}) (map[string]map[string]option.Value, error) {
	out := make(map[string]map[string]option.Value, len(entities))
	for name, got := range entities {
		emap, ok := got.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entity %v must be a table, e.g. '[service.myservice.%v]'", name, name)
		}
		entity, err := loadEntity(emap)
		if err != nil {
			return nil, fmt.Errorf("entity %v: %v", name, err)
		}
		out[name] = entity
	}
	return out, nil
}

func (cfg *Config) loadServices() error {
	got, ok := cfg.Map["service"]
	if !ok {
		return nil // no persisted setup is a valid configuration
	}
	services, ok := got.(map[string]interface{})
	if !ok {
		return fmt.Errorf("service instances must be named, e.g. '[service.myservice]'")
	}
	for name, got := range services {
		smap, ok := got.(map[string]interface{})
		if !ok {
			return fmt.Errorf("service instances must be named, e.g. '[service.myservice]'")
		}
		svc, err := loadService(smap)
		if err != nil {
			return fmt.Errorf("service %v: %v", name, err)
		}
		cfg.Setup[name] = svc
	}
	return nil
}

func (cfg *Config) loadDaemon() error {
	got, ok := cfg.Map["daemon"]
	if !ok {
		return nil // defaults apply
	}
	dmap, ok := got.(map[string]interface{})
	if !ok {
		return fmt.Errorf("'daemon' must be a table")
	}
	for k, v := range dmap {
		var err error
		switch k {
		case "control_socket":
			cfg.Daemon.ControlSocket, err = toString(v)
		case "control_socket_mode":
			cfg.Daemon.ControlSocketMode, err = toUint32(v)
		case "listen":
			cfg.Daemon.Listen, err = toString(v)
		default:
			return fmt.Errorf("unrecognised daemon parameter '%v'", k)
		}
		if err != nil {
			return fmt.Errorf("failed to process %v: %v", k, err)
		}
	}
	return nil
}

func newConfig(tree *toml.Tree) (*Config, error) {
	cfg := &Config{
		Map: tree.ToMap(),
		Daemon: DaemonConfig{
			ControlSocket:     "/var/run/pppctld.sock",
			ControlSocketMode: 0666,
			Listen:            "0.0.0.0:1701",
		},
		Setup: make(map[string]map[string]map[string]option.Value),
	}
	if err := cfg.loadDaemon(); err != nil {
		return nil, fmt.Errorf("failed to parse daemon config: %v", err)
	}
	if err := cfg.loadServices(); err != nil {
		return nil, fmt.Errorf("failed to parse service setup: %v", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from the specified file.
func LoadFile(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	return newConfig(tree)
}

// LoadString loads configuration from the specified string.
func LoadString(content string) (*Config, error) {
	tree, err := toml.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load config string: %v", err)
	}
	return newConfig(tree)
}

// SetupSource returns an option.Source backed by the persisted setup
// for the named service, for use as the Setup tier of an option.Store.
func (cfg *Config) SetupSource(serviceID string) option.Source {
	svc := cfg.Setup[serviceID]
	return option.SourceFunc(func(entity, property string) (option.Value, bool) {
		ent, ok := svc[entity]
		if !ok {
			return option.Value{}, false
		}
		v, ok := ent[property]
		return v, ok
	})
}
