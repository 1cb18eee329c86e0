// Package filemonitor implements the eBPF LSM-hook-based file-open
// collector, grounded on original_source/fact/src/bpf.rs (path_cfg_t
// layout) and original_source/fact/src/monitors/file_monitor.rs (can_run /
// start / stop semantics), reimplemented on github.com/cilium/ebpf instead
// of aya, following the rlimit/link/ringbuf pattern other_examples' probe
// main.go uses for an LSM-hooked ring buffer tracer.
package filemonitor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/kylape/fact/pkg/fact/eventbus"
)

// PathMax bounds a single monitored path, matching the eBPF program's
// fixed-size path_cfg_t buffer (spec.md §4.5).
const PathMax = 4096

// MaxAncestors bounds the process lineage the kernel program walks per
// event: up to two ancestors, each carrying uid+exe (spec.md §3).
const MaxAncestors = 2

// PathCfg mirrors the eBPF program's path_cfg_t: a fixed buffer plus an
// explicit length, since BPF programs can't work with Go-style slices.
type PathCfg struct {
	Path [PathMax]byte
	Len  uint16
}

// NewPathCfg builds a PathCfg for path, which must fit within PathMax
// bytes.
func NewPathCfg(path string) (PathCfg, error) {
	var cfg PathCfg
	if len(path) > PathMax {
		return cfg, fmt.Errorf("filemonitor: path %q exceeds maximum length %d", path, PathMax)
	}
	copy(cfg.Path[:], path)
	cfg.Len = uint16(len(path))
	return cfg, nil
}

// Fixed buffer sizes shared by every C-string-style field in a ring buffer
// record. comm mirrors Linux's TASK_COMM_LEN; the rest mirror PATH_MAX.
const (
	commLen    = 16
	cstringLen = 4096
	argvLen    = 4096
)

// rawAncestor mirrors one entry of the kernel program's lineage_t array:
// a single ancestor process in a file-open event's call chain, identified
// by uid and executable path (spec.md §3).
type rawAncestor struct {
	UID uint32
	Exe [cstringLen]byte
}

// rawProcess mirrors the kernel program's process_t: the process that
// performed the open, including its credentials, command, argv buffer,
// executable path, and cgroup path.
type rawProcess struct {
	PID        uint32
	UID        uint32
	GID        uint32
	LoginUID   uint32
	Comm       [commLen]byte
	Argv       [argvLen]byte
	ExePath    [cstringLen]byte
	CgroupPath [cstringLen]byte
}

const rawProcessSize = 4*4 + commLen + argvLen + cstringLen*2
const rawAncestorSize = 4 + cstringLen

// rawEventSize is the exact byte size of a ring buffer record, used to
// validate every read before decoding it.
const rawEventSize = 8 /*Timestamp*/ + rawProcessSize + 1 /*ExternalMount*/ + 4 /*AncestorCount*/ + MaxAncestors*rawAncestorSize + cstringLen /*Filename*/ + cstringLen /*HostPath*/

// RawFileEvent mirrors the kernel program's event_t exactly: a timestamp,
// the opening process record, an external-mount flag, up to MaxAncestors
// ancestors (oldest-first), and the filename the process used versus the
// path it resolves to on the host (spec.md §3).
type RawFileEvent struct {
	Timestamp     uint64
	Process       rawProcess
	ExternalMount int8
	AncestorCount uint32
	Ancestors     [MaxAncestors]rawAncestor
	Filename      [cstringLen]byte
	HostPath      [cstringLen]byte
}

// DecodeRawFileEvent parses a single ring buffer record. It rejects
// records of the wrong size or with fields out of range, matching the
// "decode error: reject and continue" policy (spec.md §7/§8 scenario 3).
func DecodeRawFileEvent(data []byte) (RawFileEvent, error) {
	var raw RawFileEvent
	if len(data) != rawEventSize {
		return raw, fmt.Errorf("filemonitor: event record has %d bytes, want %d", len(data), rawEventSize)
	}

	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return raw, fmt.Errorf("filemonitor: decoding event record: %w", err)
	}

	if raw.AncestorCount > MaxAncestors {
		return raw, fmt.Errorf("filemonitor: ancestor count %d exceeds maximum %d", raw.AncestorCount, MaxAncestors)
	}

	return raw, nil
}

// FileEvent is the cooked, application-facing form of a RawFileEvent: the
// validated UTF-8 forms of every path/comm/argv field plus numeric ids and
// lineage (spec.md §3).
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
	Ancestors     []Ancestor
}

// Ancestor is one process in a file-open event's lineage, identified by
// uid and executable path.
type Ancestor struct {
	UID uint32
	Exe string
}

// Cook converts a validated RawFileEvent into its application form,
// rejecting records whose path, comm, or argv fields aren't valid UTF-8.
func (raw RawFileEvent) Cook() (FileEvent, error) {
	comm, err := decodeCString(raw.Process.Comm[:])
	if err != nil {
		return FileEvent{}, fmt.Errorf("filemonitor: decoding comm: %w", err)
	}

	argv, err := decodeArgv(raw.Process.Argv[:])
	if err != nil {
		return FileEvent{}, fmt.Errorf("filemonitor: decoding argv: %w", err)
	}

	exePath, err := decodeCString(raw.Process.ExePath[:])
	if err != nil {
		return FileEvent{}, fmt.Errorf("filemonitor: decoding exe path: %w", err)
	}

	cgroupPath, err := decodeCString(raw.Process.CgroupPath[:])
	if err != nil {
		return FileEvent{}, fmt.Errorf("filemonitor: decoding cgroup path: %w", err)
	}

	filename, err := decodeCString(raw.Filename[:])
	if err != nil {
		return FileEvent{}, fmt.Errorf("filemonitor: decoding filename: %w", err)
	}

	hostPath, err := decodeCString(raw.HostPath[:])
	if err != nil {
		return FileEvent{}, fmt.Errorf("filemonitor: decoding host path: %w", err)
	}

	ev := FileEvent{
		Timestamp:     raw.Timestamp,
		PID:           raw.Process.PID,
		UID:           raw.Process.UID,
		GID:           raw.Process.GID,
		LoginUID:      raw.Process.LoginUID,
		Comm:          comm,
		Argv:          argv,
		ExePath:       exePath,
		CgroupPath:    cgroupPath,
		ExternalMount: raw.ExternalMount != 0,
		Filename:      filename,
		HostPath:      hostPath,
	}

	for i := uint32(0); i < raw.AncestorCount; i++ {
		a := raw.Ancestors[i]
		exe, err := decodeCString(a.Exe[:])
		if err != nil {
			return FileEvent{}, fmt.Errorf("filemonitor: decoding ancestor exe: %w", err)
		}
		ev.Ancestors = append(ev.Ancestors, Ancestor{UID: a.UID, Exe: exe})
	}

	return ev, nil
}

// decodeCString trims a C-style fixed buffer at its first NUL byte (or the
// whole buffer, if unterminated) and validates the result is UTF-8.
func decodeCString(buf []byte) (string, error) {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("invalid UTF-8 in fixed-size buffer")
	}
	return string(buf), nil
}

// decodeArgv splits a NUL-separated argv buffer into its component
// arguments, ignoring the empty strings produced by trailing zero padding.
func decodeArgv(buf []byte) ([]string, error) {
	var args []string
	for _, part := range bytes.Split(buf, []byte{0}) {
		if len(part) == 0 {
			continue
		}
		if !utf8.Valid(part) {
			return nil, fmt.Errorf("invalid UTF-8 in argv buffer")
		}
		args = append(args, string(part))
	}
	return args, nil
}

// ToEvent converts ev into the bus's FileActivity shape.
func (ev FileEvent) ToEvent() eventbus.Event {
	ancestors := make([]eventbus.Ancestor, len(ev.Ancestors))
	for i, a := range ev.Ancestors {
		ancestors[i] = eventbus.Ancestor{UID: a.UID, Exe: a.Exe}
	}

	return eventbus.Event{
		File: &eventbus.FileActivity{
			Timestamp:     ev.Timestamp,
			PID:           ev.PID,
			UID:           ev.UID,
			GID:           ev.GID,
			LoginUID:      ev.LoginUID,
			Comm:          ev.Comm,
			Argv:          ev.Argv,
			ExePath:       ev.ExePath,
			CgroupPath:    ev.CgroupPath,
			ExternalMount: ev.ExternalMount,
			Filename:      ev.Filename,
			HostPath:      ev.HostPath,
			Ancestors:     ancestors,
		},
	}
}
