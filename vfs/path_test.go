package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tjhancocks/imgtool/vfs"
)

func TestParsePath(t *testing.T) {
	cases := []struct {
		in         string
		components []string
		isRoot     bool
	}{
		{"", nil, false},
		{"/", []string{}, true},
		{"a", []string{"a"}, false},
		{"/a/b/c", []string{"a", "b", "c"}, true},
		{"/a//b///c/", []string{"a", "b", "c"}, true},
		{"a/./b", []string{"a", "b"}, false},
		{"/./", []string{}, true},
	}

	for _, c := range cases {
		got := vfs.ParsePath(c.in)
		require.Equal(t, c.isRoot, got.IsRoot, "input %q", c.in)
		if len(c.components) == 0 {
			require.Empty(t, got.Components, "input %q", c.in)
		} else {
			require.Equal(t, c.components, got.Components, "input %q", c.in)
		}
	}
}
