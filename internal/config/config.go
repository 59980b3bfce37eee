// Package config loads the daemon-level TOML configuration, following
// the style of cmd/containerd/command/config.go: a typed struct decoded
// with pelletier/go-toml/v2, defaults applied before decode.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Osso/sysd/internal/logging"
)

// UnitDirs mirrors the load-path precedence of spec.md §6: transient,
// then /etc, /run, /usr/lib, in that order, plus the compatibility
// root for enablement symlinks.
type UnitDirs struct {
	Transient    string `toml:"transient_dir"`
	Etc          string `toml:"etc_dir"`
	Run          string `toml:"run_dir"`
	UsrLib       string `toml:"usr_lib_dir"`
	CompatTarget string `toml:"compat_target_dir"`
}

// Config is the full daemon configuration.
type Config struct {
	Mode           string        `toml:"mode"` // "system" or "user"
	DefaultTarget  string        `toml:"default_target"`
	ControlSocket  string        `toml:"control_socket"`
	DBusName       string        `toml:"dbus_name"`
	CgroupRoot     string        `toml:"cgroup_root"`
	StateDir       string        `toml:"state_dir"`
	Dirs           UnitDirs      `toml:"unit_dirs"`
	Log            logging.Config `toml:"log"`
}

// Default returns the system-mode configuration used when no config
// file is present, matching the load paths named in spec.md §6.
func Default() Config {
	return Config{
		Mode:          "system",
		DefaultTarget: "default.target",
		ControlSocket: "/run/sysd.sock",
		DBusName:      "org.freedesktop.systemd1",
		CgroupRoot:    "/sys/fs/cgroup",
		StateDir:      "/var/lib/sysd",
		Dirs: UnitDirs{
			Transient:    "/run/sysd/transient",
			Etc:          "/etc/systemd/system",
			Run:          "/run/systemd/system",
			UsrLib:       "/usr/lib/systemd/system",
			CompatTarget: "/etc/sysd/targets",
		},
		Log: logging.Config{Level: "info"},
	}
}

// Load reads and decodes the TOML file at path, applying it on top of
// Default(). A missing file is not an error: PID 1 must come up with
// sane defaults even with no configuration present.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
