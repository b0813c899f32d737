package main_test

import (
	"flag"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var e2e = flag.Bool("e2e", false, "test with realdevice")

func TestVersion(t *testing.T) {
	if !*e2e {
		t.Skip("needs -e2e")
	}
	output, err := exec.Command("go", "run", ".", "version", "--nojson").Output()
	require.NoError(t, err)
	assert.Equal(t, "local-build", strings.TrimSpace(string(output)))
}

func TestDeviceList(t *testing.T) {
	if !*e2e {
		t.Skip("needs -e2e")
	}
	output, err := exec.Command("go", "run", ".", "list").Output()
	require.NoError(t, err)
	assert.Contains(t, string(output), "deviceList")
}

func TestDeploy(t *testing.T) {
	if !*e2e {
		t.Skip("needs -e2e")
	}
	output, err := exec.Command("go", "run", ".", "deploy", "--nojson", "--timeout=5m").Output()
	require.NoError(t, err)
	assert.Contains(t, string(output), "/var/root/debugserver")
}
