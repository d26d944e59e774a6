package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = v, c, d })
	Version, Commit, BuildDate = version, commit, date
}

func TestInfo(t *testing.T) {
	tests := []struct {
		name   string
		commit string
		want   string
	}{
		{name: "unknown commit", commit: "unknown", want: "1.0.0"},
		{name: "short commit", commit: "abc", want: "1.0.0"},
		{name: "seven chars", commit: "1234567", want: "1.0.0"},
		{name: "full hash", commit: "abc1234567890", want: "1.0.0 (abc1234)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withVersion(t, "1.0.0", tt.commit, "unknown")
			assert.Equal(t, tt.want, Info())
		})
	}
}

func TestFull(t *testing.T) {
	withVersion(t, "1.2.3", "abcdef123456", "2026-01-15")

	got := Full()
	assert.Contains(t, got, "groovyls 1.2.3")
	assert.Contains(t, got, "Commit: abcdef123456")
	assert.Contains(t, got, "Built: 2026-01-15")
	assert.Contains(t, got, runtime.Version())
}

func TestGet(t *testing.T) {
	withVersion(t, "2.0.0", "c0ffee", "today")
	b := Get()
	assert.Equal(t, "2.0.0", b.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, b.Platform)
}

func TestDefaultVersionIsSemver(t *testing.T) {
	assert.True(t, Valid(), "Version %q", Version)
}
