package appinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	build := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v1.4.0"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			},
		}, true
	}

	got := resolve("", build)
	assert.Equal(t, "v1.4.0", got.Version)
	assert.Equal(t, "0123456789ab", got.Revision)
	assert.NotEmpty(t, got.GoVersion)

	assert.Equal(t, "2.0.0-rc1", resolve("2.0.0-rc1", build).Version)
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	got := resolve("", func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Equal(t, "0.0.0-unknown", got.Version)
	assert.Empty(t, got.Revision)
}

func TestResolveDevelBuild(t *testing.T) {
	got := resolve("", func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	})
	assert.Equal(t, "0.0.0-unknown", got.Version)
}
