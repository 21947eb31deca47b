package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConfig, 2},
		{KindEntrypoint, 3},
		{KindRequirements, 4},
		{KindEnvironment, 10},
		{KindRuntime, 11},
		{KindFilesystem, 12},
		{KindSubprocess, 13},
		{KindBuild, 20},
		{KindBundleFormat, 21},
		{KindLaunch, 30},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(New(tt.kind, "boom")))
		})
	}
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
}

func TestIsWalksWholeChain(t *testing.T) {
	inner := New(KindConfig, "dependencies directory not found")
	outer := Wrap(KindBuild, inner, "failed to assemble bundle")

	assert.True(t, Is(outer, KindBuild))
	assert.True(t, Is(outer, KindConfig))
	assert.False(t, Is(outer, KindFilesystem))
	assert.Equal(t, KindBuild, KindOf(outer))
	assert.Equal(t, 20, ExitCode(outer))
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(KindFilesystem, fs.ErrPermission, "failed to remove %s", "x").WithPath("x")
	wrapped := fmt.Errorf("stage: %w", err)

	assert.ErrorIs(t, wrapped, fs.ErrPermission)
	assert.True(t, Is(wrapped, KindFilesystem))
	assert.Equal(t, "x", PathOf(wrapped))
	assert.Contains(t, err.Error(), "failed to remove x")
}
