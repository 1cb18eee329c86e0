// Package hostinfo resolves the identity of the host fact is running on:
// its mount prefix, hostname, and (when available) OS distribution
// descriptor. Grounded on original_source/fact/src/vm_agent.rs's
// HOST_MOUNT/HOSTNAME lazy statics, reimplemented with sync.Once instead of
// once_cell/LazyLock.
package hostinfo

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var (
	mountOnce sync.Once
	mountDir  string

	hostnameOnce sync.Once
	hostname     string
)

// hostnameCandidates are tried in order under the host mount prefix; the
// first one that exists wins, matching the original agent's fallback chain.
var hostnameCandidates = []string{"etc/hostname", "proc/sys/kernel/hostname"}

// Mount returns the host filesystem mount prefix, read once from
// FACT_HOST_MOUNT. Empty when fact is running directly on the host rather
// than in a container with the host filesystem bind-mounted.
func Mount() string {
	mountOnce.Do(func() {
		mountDir = os.Getenv("FACT_HOST_MOUNT")
	})
	return mountDir
}

// Hostname returns the host's hostname, read once from the first
// candidate path that exists under Mount(). Falls back to "no-hostname" if
// none of them do.
func Hostname() string {
	hostnameOnce.Do(func() {
		hostname = resolveHostname(Mount())
	})
	return hostname
}

// resolveHostname is the pure lookup Hostname caches: the first candidate
// under mount that exists, trimmed, or "no-hostname".
func resolveHostname(mount string) string {
	for _, candidate := range hostnameCandidates {
		data, err := os.ReadFile(filepath.Join(mount, candidate))
		if err != nil {
			continue
		}
		return strings.TrimSpace(string(data))
	}
	return "no-hostname"
}

// Distribution describes the host's OS release, read fresh on every call
// since it's only consulted once per package-monitor scan cycle rather than
// on every request.
type Distribution struct {
	ID         string
	VersionID  string
	Arch       string
	PrettyName string
	CPE        string
}

// rpmArch maps Go's GOARCH values to the rpm-style architecture names the
// package report's distro descriptor carries (spec.md §3/§6).
var rpmArch = map[string]string{
	"amd64": "x86_64",
	"arm64": "aarch64",
	"386":   "i686",
	"arm":   "armv7hl",
}

// hostArch reports the rpm-style architecture name for the running
// process's GOARCH, falling back to GOARCH itself when no mapping exists.
func hostArch() string {
	if a, ok := rpmArch[runtime.GOARCH]; ok {
		return a
	}
	return runtime.GOARCH
}

// ReadDistribution parses /etc/os-release and /etc/system-release-cpe
// under Mount(). Returns a zero-value Distribution and a nil error when
// os-release is absent, since fact still functions without a known
// distribution descriptor (spec.md §3's PackageReport.distro is optional).
func ReadDistribution() (Distribution, error) {
	return readDistribution(Mount())
}

func readDistribution(mount string) (Distribution, error) {
	var d Distribution

	data, err := os.ReadFile(filepath.Join(mount, "etc/os-release"))
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, err
	}
	d.Arch = hostArch()

	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, `"`)
		switch key {
		case "ID":
			d.ID = val
		case "VERSION_ID":
			d.VersionID = val
		case "PRETTY_NAME":
			d.PrettyName = val
		}
	}

	if cpe, err := os.ReadFile(filepath.Join(mount, "etc/system-release-cpe")); err == nil {
		d.CPE = strings.TrimSpace(string(cpe))
	}

	return d, nil
}
