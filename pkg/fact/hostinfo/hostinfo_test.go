package hostinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHostname_PrefersEtcHostname(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "hostname"), []byte("web-01\n"), 0o644))

	assert.Equal(t, "web-01", resolveHostname(dir))
}

func TestResolveHostname_FallsBackToProc(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "proc", "sys", "kernel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proc", "sys", "kernel", "hostname"), []byte("db-02"), 0o644))

	assert.Equal(t, "db-02", resolveHostname(dir))
}

func TestResolveHostname_NoCandidates(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "no-hostname", resolveHostname(dir))
}

func TestReadDistribution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "etc"), 0o755))
	osRelease := `NAME="Red Hat Enterprise Linux"
ID=rhel
VERSION_ID="9.2"
PRETTY_NAME="Red Hat Enterprise Linux 9.2 (Plow)"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "os-release"), []byte(osRelease), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "system-release-cpe"), []byte("cpe:/o:redhat:enterprise_linux:9.2:ga\n"), 0o644))

	d, err := readDistribution(dir)
	require.NoError(t, err)
	assert.Equal(t, "rhel", d.ID)
	assert.Equal(t, "9.2", d.VersionID)
	assert.Equal(t, "Red Hat Enterprise Linux 9.2 (Plow)", d.PrettyName)
	assert.Equal(t, "cpe:/o:redhat:enterprise_linux:9.2:ga", d.CPE)
	assert.Equal(t, hostArch(), d.Arch)
}

func TestHostArch_MapsKnownGOARCH(t *testing.T) {
	assert.Equal(t, "x86_64", rpmArch["amd64"])
	assert.Equal(t, "aarch64", rpmArch["arm64"])
}

func TestReadDistribution_MissingOSRelease(t *testing.T) {
	dir := t.TempDir()
	d, err := readDistribution(dir)
	require.NoError(t, err)
	assert.Equal(t, Distribution{}, d)
}
