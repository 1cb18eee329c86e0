package filemonitor

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRawEvent(t *testing.T, timestamp uint64, pid, uid uint32, comm, exePath, filename, hostPath string, externalMount bool, ancestors []Ancestor) []byte {
	t.Helper()
	var raw RawFileEvent
	raw.Timestamp = timestamp
	raw.Process.PID = pid
	raw.Process.UID = uid
	copy(raw.Process.Comm[:], comm)
	copy(raw.Process.ExePath[:], exePath)
	copy(raw.Filename[:], filename)
	copy(raw.HostPath[:], hostPath)
	if externalMount {
		raw.ExternalMount = 1
	}
	raw.AncestorCount = uint32(len(ancestors))
	for i, a := range ancestors {
		raw.Ancestors[i].UID = a.UID
		copy(raw.Ancestors[i].Exe[:], a.Exe)
	}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &raw))
	return buf.Bytes()
}

func TestDecodeRawFileEvent_RoundTrip(t *testing.T) {
	data := buildRawEvent(t, 1, 1234, 0, "cat", "/bin/cat", "/etc/passwd", "/etc/passwd", false, []Ancestor{
		{UID: 1000, Exe: "/bin/bash"},
		{UID: 0, Exe: "/sbin/init"},
	})

	raw, err := DecodeRawFileEvent(data)
	require.NoError(t, err)

	ev, err := raw.Cook()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev.Timestamp)
	assert.Equal(t, "/etc/passwd", ev.Filename)
	assert.Equal(t, "/etc/passwd", ev.HostPath)
	assert.Equal(t, uint32(1234), ev.PID)
	assert.Equal(t, uint32(0), ev.UID)
	assert.Equal(t, "cat", ev.Comm)
	assert.False(t, ev.ExternalMount)
	require.Len(t, ev.Ancestors, 2)
	assert.Equal(t, Ancestor{UID: 1000, Exe: "/bin/bash"}, ev.Ancestors[0])
	assert.Equal(t, Ancestor{UID: 0, Exe: "/sbin/init"}, ev.Ancestors[1])
}

// File event decode — spec.md §8 scenario 3: a RawFileEvent with
// timestamp=1, pid=42, comm="sh", exe_path="/bin/sh", filename="/etc/passwd",
// lineage length 1 ancestor (uid=0, exe="/sbin/init") cooks to a FileEvent
// whose fields equal those literals, with lineage length 1.
func TestDecodeRawFileEvent_SpecScenario3(t *testing.T) {
	data := buildRawEvent(t, 1, 42, 0, "sh", "/bin/sh", "/etc/passwd", "/etc/passwd", false, []Ancestor{
		{UID: 0, Exe: "/sbin/init"},
	})

	raw, err := DecodeRawFileEvent(data)
	require.NoError(t, err)

	ev, err := raw.Cook()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev.Timestamp)
	assert.Equal(t, uint32(42), ev.PID)
	assert.Equal(t, "sh", ev.Comm)
	assert.Equal(t, "/bin/sh", ev.ExePath)
	assert.Equal(t, "/etc/passwd", ev.Filename)
	require.Len(t, ev.Ancestors, 1)
	assert.Equal(t, Ancestor{UID: 0, Exe: "/sbin/init"}, ev.Ancestors[0])
}

func TestDecodeRawFileEvent_WrongSize(t *testing.T) {
	_, err := DecodeRawFileEvent([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeRawFileEvent_AncestorCountOutOfRange(t *testing.T) {
	data := buildRawEvent(t, 1, 2, 2, "ls", "/bin/ls", "/bin/ls", "/bin/ls", false, nil)
	ancestorCountOffset := 8 + rawProcessSize + 1
	binary.LittleEndian.PutUint32(data[ancestorCountOffset:ancestorCountOffset+4], MaxAncestors+1)

	_, err := DecodeRawFileEvent(data)
	assert.Error(t, err)
}

func TestCook_RejectsInvalidUTF8Filename(t *testing.T) {
	var raw RawFileEvent
	raw.Filename[0] = 0xff
	raw.Filename[1] = 0xfe
	raw.Filename[2] = 0xfd

	_, err := raw.Cook()
	assert.Error(t, err)
}

func TestCook_DecodesArgvBuffer(t *testing.T) {
	var raw RawFileEvent
	copy(raw.Process.Argv[:], "cat\x00/etc/passwd\x00")

	ev, err := raw.Cook()
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "/etc/passwd"}, ev.Argv)
}

func TestNewPathCfg_RejectsOversizedPath(t *testing.T) {
	_, err := NewPathCfg(string(make([]byte, PathMax+1)))
	assert.Error(t, err)
}
