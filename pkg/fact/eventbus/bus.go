// Package eventbus is the bounded channel collectors publish onto and the
// sink drains, modeled on original_source/fact/src/monitor.rs's
// MonitorEvent enum and its mpsc::channel(1024) bus.
package eventbus

import "github.com/kylape/fact/pkg/fact/sensorapi"

// Capacity is the bus's channel buffer size. A collector that outpaces the
// sink blocks rather than dropping events, matching the original's bounded
// mpsc channel.
const Capacity = 1024

// Ancestor is one process in a file-open event's lineage, identified by
// uid and executable path (spec.md §3).
type Ancestor struct {
	UID uint32
	Exe string
}

// FileActivity is emitted by the file-open collector for each observed
// open, carrying the full process record spec.md §3 names: timestamp,
// credentials, argv, executable and cgroup paths, the external-mount
// flag, the filename vs host-resolved path split, and up to two ancestors.
type FileActivity struct {
	Timestamp     uint64
	PID           uint32
	UID           uint32
	GID           uint32
	LoginUID      uint32
	Comm          string
	Argv          []string
	ExePath       string
	CgroupPath    string
	ExternalMount bool
	Filename      string
	HostPath      string
	Ancestors     []Ancestor
}

// ToWire converts a FileActivity into its sensor RPC wire form.
func (f FileActivity) ToWire() sensorapi.FileEvent {
	ancestors := make([]sensorapi.FileEventAncestor, len(f.Ancestors))
	for i, a := range f.Ancestors {
		ancestors[i] = sensorapi.FileEventAncestor{UID: a.UID, Exe: a.Exe}
	}
	return sensorapi.FileEvent{
		Timestamp:     f.Timestamp,
		PID:           f.PID,
		UID:           f.UID,
		GID:           f.GID,
		LoginUID:      f.LoginUID,
		Comm:          f.Comm,
		Argv:          f.Argv,
		ExePath:       f.ExePath,
		CgroupPath:    f.CgroupPath,
		ExternalMount: f.ExternalMount,
		Filename:      f.Filename,
		HostPath:      f.HostPath,
		Ancestors:     ancestors,
	}
}

// PackageUpdate is emitted by the package collector once per scan cycle.
type PackageUpdate struct {
	VM sensorapi.VirtualMachine
}

// Event is the tagged union of everything a collector can publish. Exactly
// one of File or Package is set.
type Event struct {
	File    *FileActivity
	Package *PackageUpdate
}

// Bus is the channel collectors publish Events onto and the sink
// consumes them from.
type Bus chan Event

// New creates a Bus with the standard capacity.
func New() Bus {
	return make(Bus, Capacity)
}
