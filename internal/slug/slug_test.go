package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNormal(t *testing.T) {
	normal := []string{
		"main",
		"scp-1000",
		"scp-series-5",
		"component:theme",
		"component:black-highlighter-theme-dev",
		"fragment:component:decommissioned:page",
		"173",
	}
	for _, s := range normal {
		assert.True(t, IsNormal(s), "expected normal: %q", s)
	}

	abnormal := []string{
		"",
		"SCP-1000",
		"scp 1000",
		"scp_1000",
		"-scp",
		"scp-",
		"scp--1000",
		":main",
		"main:",
		"component::theme",
		"café",
		"scp-1000\n",
	}
	for _, s := range abnormal {
		assert.False(t, IsNormal(s), "expected abnormal: %q", s)
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "scp-1000.ftml", Path("scp-1000"))
	assert.Equal(t, "component$theme.ftml", Path("component:theme"))
	assert.Equal(t, "fragment$component$page.ftml", Path("fragment:component:page"))
}

func TestPathInjective(t *testing.T) {
	slugs := []string{
		"main",
		"scp-1000",
		"component:theme",
		"component:theme-x",
		"fragment:component:page",
		"fragment:component-page",
	}

	seen := make(map[string]string)
	for _, s := range slugs {
		p := Path(s)
		prev, dup := seen[p]
		assert.False(t, dup, "slugs %q and %q collide on %q", prev, s, p)
		seen[p] = s

		// Stability
		assert.Equal(t, p, Path(s))
	}
}
