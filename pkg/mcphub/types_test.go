package mcphub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveResource_ExactMatchWinsOverPrefix(t *testing.T) {
	table := NewEmptyRoutingTable()
	table.ResourceOwner["file:///repo/"] = "fs-prefix-owner"
	table.ResourceOwner["file:///repo/README.md"] = "fs-exact-owner"

	backend, ok := table.ResolveResource("file:///repo/README.md")
	assert.True(t, ok)
	assert.Equal(t, "fs-exact-owner", backend)
}

func TestResolveResource_LongestPrefixWins(t *testing.T) {
	table := NewEmptyRoutingTable()
	table.ResourceOwner["file:///repo/"] = "shallow-owner"
	table.ResourceOwner["file:///repo/src/"] = "deep-owner"

	backend, ok := table.ResolveResource("file:///repo/src/main.go")
	assert.True(t, ok)
	assert.Equal(t, "deep-owner", backend)
}

func TestResolveResource_NoMatchingPrefixIsNotFound(t *testing.T) {
	table := NewEmptyRoutingTable()
	table.ResourceOwner["file:///repo/"] = "fs-owner"

	_, ok := table.ResolveResource("file:///other/thing")
	assert.False(t, ok)
}

func TestResolveResource_EmptyTableIsNotFound(t *testing.T) {
	table := NewEmptyRoutingTable()
	_, ok := table.ResolveResource("anything")
	assert.False(t, ok)
}
