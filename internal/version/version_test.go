package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		expected string
	}{
		{"plain", Info{Version: "v1.0.0"}, "v1.0.0"},
		{"commit", Info{Version: "v1.0.0", Commit: "abcdef0123"}, "v1.0.0 (abcdef0)"},
		{"short commit ignored", Info{Version: "dev", Commit: "abc"}, "dev"},
		{"dirty", Info{Version: "dev", Commit: "abcdef0123", Modified: true}, "dev (abcdef0) (dirty)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.info.String())
		})
	}
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}
