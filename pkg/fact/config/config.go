// Package config defines the fact agent's configuration surface: the flags
// and environment variables in spec.md §6, bound with the same
// cobra/pflag/viper stack the teacher repository uses for its own
// command-line tools.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Mode selects which collectors a process is willing to run.
type Mode string

const (
	ModeFileMonitor   Mode = "file-monitor"
	ModeVMAgent       Mode = "vm-agent"
	ModeVsockListener Mode = "vsock-listener"
	ModeHybrid        Mode = "hybrid"
)

func (m Mode) valid() bool {
	switch m {
	case ModeFileMonitor, ModeVMAgent, ModeVsockListener, ModeHybrid:
		return true
	default:
		return false
	}
}

// MaxPaths is the hard limit on the number of watched paths (spec.md §3).
const MaxPaths = 16

// FactConfig is the immutable, process-wide configuration built once at
// startup from flags and environment variables.
type FactConfig struct {
	Mode Mode

	EnableFileMonitor    bool
	EnablePackageMonitor bool

	Paths []string

	URL   string
	Certs string

	SkipHTTP bool
	UseVsock bool

	RPMDB    string
	Interval uint64 // seconds

	VsockPort      uint32
	SensorEndpoint string

	LogLevel string
}

const envPrefix = "FACT"

// BindFlags registers every flag in spec.md §6 on flags, along with its
// matching FACT_* environment variable via viper. Call Load afterward to
// materialize a FactConfig from whatever was parsed.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.Bool("enable-file-monitor", false, "arm the file-open collector")
	flags.Bool("enable-package-monitor", false, "arm the package inventory collector")
	flags.StringSlice("paths", nil, "colon-separated list of paths to watch (file-monitor mode only)")
	flags.String("url", "", "sensor endpoint URL")
	flags.String("certs", "", "directory holding the mTLS certificate bundle")
	flags.Bool("skip-http", false, "suppress RPC sends")
	flags.Bool("use-vsock", false, "use the host-guest socket transport instead of RPC")
	flags.String("rpmdb", "/var/lib/rpm", "package database directory")
	flags.Uint64("interval", 3600, "package scan interval in seconds")
	flags.String("mode", string(ModeFileMonitor), "agent role: file-monitor, vm-agent, vsock-listener, hybrid")
	flags.Uint32("vsock-port", 818, "host-guest transport listener port")
	flags.String("sensor-endpoint", "", "relay upstream sensor target")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{
		"enable-file-monitor", "enable-package-monitor", "url", "certs",
		"skip-http", "use-vsock", "rpmdb", "interval", "mode", "vsock-port",
		"sensor-endpoint",
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %q: %w", name, err)
		}
	}
	v.SetDefault("log-level", "info")

	return v.BindPFlags(flags)
}

// Load materializes a FactConfig from parsed flags plus environment
// overrides, applies the default-selection rule from spec.md §4.1/§6, and
// validates it.
func Load(flags *pflag.FlagSet, v *viper.Viper) (*FactConfig, error) {
	paths, err := flags.GetStringSlice("paths")
	if err != nil {
		return nil, fmt.Errorf("reading paths flag: %w", err)
	}

	cfg := &FactConfig{
		Mode:                 Mode(v.GetString("mode")),
		EnableFileMonitor:    v.GetBool("enable-file-monitor"),
		EnablePackageMonitor: v.GetBool("enable-package-monitor"),
		Paths:                splitPaths(paths),
		URL:                  v.GetString("url"),
		Certs:                v.GetString("certs"),
		SkipHTTP:             v.GetBool("skip-http"),
		UseVsock:             v.GetBool("use-vsock"),
		RPMDB:                v.GetString("rpmdb"),
		Interval:             v.GetUint64("interval"),
		VsockPort:            uint32(v.GetUint("vsock-port")),
		SensorEndpoint:       v.GetString("sensor-endpoint"),
		LogLevel:             v.GetString("log-level"),
	}

	applyDefaultSelection(cfg, flagWasSet(flags, v, "enable-file-monitor", "enable-package-monitor"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitPaths flattens pflag's StringSlice (which already splits on commas)
// and additionally honors the spec's ':'-separated form for a single
// argument, e.g. --paths=/etc:/usr/bin.
func splitPaths(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, p := range strings.Split(r, ":") {
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func flagWasSet(flags *pflag.FlagSet, v *viper.Viper, names ...string) bool {
	for _, name := range names {
		if flags.Changed(name) || v.IsSet(name) {
			return true
		}
	}
	return false
}

// applyDefaultSelection implements spec.md's default-selection rule: if
// neither enable flag was explicitly set, enable the package collector
// when no paths were given, otherwise enable the file collector.
func applyDefaultSelection(cfg *FactConfig, anyEnableFlagSet bool) {
	if anyEnableFlagSet {
		return
	}
	if len(cfg.Paths) == 0 {
		cfg.EnablePackageMonitor = true
	} else {
		cfg.EnableFileMonitor = true
	}
}

// Validate enforces the config-level invariants from spec.md §3. Per-path
// length (PATH_MAX) is a resource-acquisition concern checked by the file
// collector at start, not here, so that an oversized path only fails that
// one collector (spec.md §8 scenario 4).
func (c *FactConfig) Validate() error {
	if !c.Mode.valid() {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if len(c.Paths) > MaxPaths {
		return fmt.Errorf("too many watched paths: got %d, max %d", len(c.Paths), MaxPaths)
	}
	return nil
}
