package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVirtualFnRoundTrip(t *testing.T) {
	cases := []struct {
		real  string
		class string
	}{
		{"/layers/meta/foo_1.0.bb", ""},
		{"/layers/meta/foo_1.0.bb", "native"},
		{"/layers/meta/foo_1.0.bb", "nativesdk"},
	}
	for _, tc := range cases {
		v := VirtualFn(tc.real, tc.class)
		real, class := SplitVirtualFn(v)
		assert.Equal(t, tc.real, real)
		assert.Equal(t, tc.class, class)
	}
}

func TestSplitVirtualFn_PlainPathPassesThrough(t *testing.T) {
	real, class := SplitVirtualFn("/a/b/foo.bb")
	assert.Equal(t, "/a/b/foo.bb", real)
	assert.Empty(t, class)
}

func TestPEPVPRCompare(t *testing.T) {
	assert.Positive(t, PEPVPR{Version: "2.0"}.Compare(PEPVPR{Version: "1.0"}))
	assert.Positive(t, PEPVPR{Version: "1.10"}.Compare(PEPVPR{Version: "1.9"}), "numeric segments compare numerically")
	assert.Positive(t, PEPVPR{Epoch: "1", Version: "1.0"}.Compare(PEPVPR{Epoch: "", Version: "9.0"}), "epoch dominates version")
	assert.Zero(t, PEPVPR{Version: "1.0", Revision: "r0"}.Compare(PEPVPR{Version: "1.0", Revision: "r0"}))
	assert.Negative(t, PEPVPR{Version: "1.0", Revision: "r1"}.Compare(PEPVPR{Version: "1.0", Revision: "r2"}))
}

func TestSplitTarget(t *testing.T) {
	assert.Equal(t, Target{Name: "app", Task: "build"}, SplitTarget("app", "build"))
	assert.Equal(t, Target{Name: "app", Task: "compile"}, SplitTarget("app:do_compile", "build"))
}
