// Package sensorapi stands in for the sensor's protobuf-generated bindings,
// which spec.md §1 places explicitly out of scope ("the protobuf schemas for
// the sensor RPC; assumed available as generated code"). These types carry
// exactly the fields spec.md §6 names for the VirtualMachine upsert and
// IndexReport upsert wire messages, and their Marshal/Unmarshal methods use
// the same wire format real generated bindings would (see wire.go), so a
// real sensor build would decode them identically.
package sensorapi

// Component mirrors one installed package record on the wire
// (PackageRecord in spec.md §3).
type Component struct {
	Name         string
	Version      string
	Architecture string
}

// Scan is the list of components discovered on a virtual machine.
type Scan struct {
	Components []Component
}

// VirtualMachine is the payload of the virtual-machine upsert RPC
// (spec.md §6).
type VirtualMachine struct {
	ID   string
	Name string
	Scan *Scan
}

// Distribution is the optional OS descriptor attached to an index report
// (spec.md §3's PackageReport.distro field).
type Distribution struct {
	ID         string
	VersionID  string
	Arch       string
	CPE        string
	PrettyName string
}

// Contents holds the packages and optional distribution descriptor of an
// index scan.
type Contents struct {
	Packages      []Component
	Distributions []Distribution
}

// IndexV4 is the scanner-format payload embedded in an IndexReport.
type IndexV4 struct {
	HashID   string
	Success  bool
	Contents *Contents
}

// IndexReport is the payload of the virtual-machine index-report upsert RPC
// and of host-guest transport frames (spec.md §6).
type IndexReport struct {
	VsockCID string
	IndexV4  *IndexV4
}

// FileEventAncestor is one process in a FileEvent's lineage (spec.md §3's
// "lineage of up to 2 ancestors each with uid+exe").
type FileEventAncestor struct {
	UID uint32
	Exe string
}

// FileEvent is the payload the sink forwards over the sensor RPC for each
// observed file-open (spec.md §2(10), §4.2, §3's FileEvent entity).
type FileEvent struct {
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
	Ancestors     []FileEventAncestor
}
