package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, Protocol, info.Protocol)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.4.0", Commit: "abc123", BuildTime: "2026-06-01", GoVersion: "go1.25.0", Protocol: 2}

	assert.Equal(t, "1.4.0 (commit abc123, built 2026-06-01, go1.25.0, protocol v2)", info.String())
}
