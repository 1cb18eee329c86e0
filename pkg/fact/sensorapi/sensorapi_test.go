package sensorapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexReportRoundTrip(t *testing.T) {
	report := IndexReport{
		VsockCID: "3",
		IndexV4: &IndexV4{
			HashID:  "sha256:deadbeef",
			Success: true,
			Contents: &Contents{
				Packages: []Component{
					{Name: "bash", Version: "5.1.16", Architecture: "x86_64"},
					{Name: "curl", Version: "7.88.1", Architecture: "x86_64"},
				},
				Distributions: []Distribution{
					{ID: "rhel", VersionID: "9.2", Arch: "x86_64", CPE: "cpe:/o:redhat:enterprise_linux:9", PrettyName: "Red Hat Enterprise Linux 9.2"},
				},
			},
		},
	}

	wire := report.Marshal()
	got, err := UnmarshalIndexReport(wire)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestIndexReportRoundTrip_EmptyContents(t *testing.T) {
	report := IndexReport{
		VsockCID: "2",
		IndexV4: &IndexV4{
			HashID:  "sha256:abc",
			Success: false,
		},
	}

	got, err := UnmarshalIndexReport(report.Marshal())
	require.NoError(t, err)
	assert.Equal(t, report, got)
	assert.Nil(t, got.IndexV4.Contents)
}

func TestVirtualMachineRoundTrip(t *testing.T) {
	vm := VirtualMachine{
		ID:   "vm-1234",
		Name: "web-01",
		Scan: &Scan{
			Components: []Component{
				{Name: "openssl", Version: "3.0.2", Architecture: "x86_64"},
			},
		},
	}

	got, err := UnmarshalVirtualMachine(vm.Marshal())
	require.NoError(t, err)
	assert.Equal(t, vm, got)
}

func TestFileEventRoundTrip(t *testing.T) {
	ev := FileEvent{
		Timestamp:     1,
		PID:           42,
		UID:           1000,
		GID:           1000,
		LoginUID:      1000,
		Comm:          "sh",
		Argv:          []string{"sh", "-c", "cat /etc/passwd"},
		ExePath:       "/bin/sh",
		CgroupPath:    "/sys/fs/cgroup/system.slice/app.service",
		ExternalMount: true,
		Filename:      "/etc/passwd",
		HostPath:      "/host/etc/passwd",
		Ancestors: []FileEventAncestor{
			{UID: 0, Exe: "/sbin/init"},
		},
	}

	got, err := UnmarshalFileEvent(ev.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestFileEventRoundTrip_NoAncestors(t *testing.T) {
	ev := FileEvent{Timestamp: 5, PID: 1, Comm: "init", Filename: "/"}

	got, err := UnmarshalFileEvent(ev.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Empty(t, got.Ancestors)
}

func TestUnmarshalIndexReport_InvalidBytes(t *testing.T) {
	_, err := UnmarshalIndexReport([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestUnmarshalIndexReport_UnknownFieldsIgnored(t *testing.T) {
	report := IndexReport{VsockCID: "1"}
	wire := report.Marshal()
	// Tack on an unknown field (field 99, varint) that a future sensor
	// version might add; decoders must tolerate it.
	wire = append(wire, 0x98, 0x06, 0x01)

	got, err := UnmarshalIndexReport(wire)
	require.NoError(t, err)
	assert.Equal(t, report.VsockCID, got.VsockCID)
}
