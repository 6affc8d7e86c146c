package hpgmux

import (
	"bytes"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintVersion(t *testing.T) {
	var saved = HPGMUX_VERSION
	defer func() {
		HPGMUX_VERSION = saved
	}()

	HPGMUX_VERSION = "1.2.3"

	var out bytes.Buffer
	printVersion(&out, "hpgmux", false)

	assert.Contains(t, out.String(), "hpgmux - Version 1.2.3 (revision ")
	assert.NotContains(t, out.String(), "BuildInfo")

	out.Reset()
	printVersion(&out, "hpgmux", true)
	assert.Contains(t, out.String(), "BuildInfo")
}

func TestGetBuildSettingOrDefault(t *testing.T) {
	var bi = &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}}}

	assert.Equal(t, "abc123", getBuildSettingOrDefault(bi, "vcs.revision", "UNKNOWN"))
	assert.Equal(t, "UNKNOWN", getBuildSettingOrDefault(bi, "vcs.time", "UNKNOWN"))
	assert.Equal(t, "UNKNOWN", getBuildSettingOrDefault(nil, "vcs.time", "UNKNOWN"))
}
