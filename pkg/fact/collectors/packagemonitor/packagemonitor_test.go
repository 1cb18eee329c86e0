package packagemonitor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRPM installs an executable named "rpm" on PATH that prints output,
// so scanPackages can be exercised without a real RPM database.
func fakeRPM(t *testing.T, output string) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("fake rpm script requires a POSIX shell")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "EOF\n"
	path := filepath.Join(dir, "rpm")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	oldPath := os.Getenv("PATH")
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
}

func TestScanPackages_ParsesWellFormedOutput(t *testing.T) {
	fakeRPM(t, "bash|5.1.16|1.el9|x86_64\ncurl|7.88.1|2.el9|x86_64\n")

	pkgs, err := scanPackages(context.Background(), "/var/lib/rpm")
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "bash", pkgs[0].Name)
	assert.Equal(t, "5.1.16-1.el9", pkgs[0].Version)
	assert.Equal(t, "x86_64", pkgs[0].Architecture)
}

func TestScanPackages_SkipsMalformedLine(t *testing.T) {
	fakeRPM(t, "bash|5.1.16|1.el9|x86_64\nnotfourfields\ncurl|7.88.1|2.el9|x86_64\n")

	pkgs, err := scanPackages(context.Background(), "/var/lib/rpm")
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "bash", pkgs[0].Name)
	assert.Equal(t, "curl", pkgs[1].Name)
}

func TestScanPackages_EmptyOutput(t *testing.T) {
	fakeRPM(t, "")

	pkgs, err := scanPackages(context.Background(), "/var/lib/rpm")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}
