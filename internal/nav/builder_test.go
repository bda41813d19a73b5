package nav_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/nav"
	_ "github.com/meridian-gw/meridian-gw/testing"
)

func TestBuildOrdersSiblingsByOrder(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "A", Order: 1},
		{ID: 2, ParentID: 1, Label: "B", Order: 2},
		{ID: 3, ParentID: 1, Label: "C", Order: 1},
	}

	tree, _ := nav.Build(nodes)
	require.Len(t, tree, 1)
	require.Equal(t, "A", tree[0].Label)
	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "C", tree[0].Children[0].Label)
	assert.Equal(t, "B", tree[0].Children[1].Label)
}

func TestBuildStableOnEqualOrder(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "first", Order: 5},
		{ID: 2, ParentID: nav.RootParentID, Label: "second", Order: 5},
		{ID: 3, ParentID: nav.RootParentID, Label: "third", Order: 5},
	}

	tree, _ := nav.Build(nodes)
	require.Len(t, tree, 3)
	assert.Equal(t, "first", tree[0].Label)
	assert.Equal(t, "second", tree[1].Label)
	assert.Equal(t, "third", tree[2].Label)
}

func TestBuildVisitsEveryNodeExactlyOnce(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "a", Order: 2},
		{ID: 2, ParentID: nav.RootParentID, Label: "b", Order: 1},
		{ID: 3, ParentID: 1, Label: "a1", Order: 1},
		{ID: 4, ParentID: 1, Label: "a2", Order: 2},
		{ID: 5, ParentID: 4, Label: "a2x", Order: 1},
		{ID: 6, ParentID: 2, Label: "b1", Order: 1},
	}

	tree, _ := nav.Build(nodes)

	labels := map[string]int{}
	var walk func(items []nav.Item)
	walk = func(items []nav.Item) {
		for _, item := range items {
			labels[item.Label]++
			walk(item.Children)
		}
	}
	walk(tree)

	require.Len(t, labels, len(nodes))
	for label, count := range labels {
		assert.Equalf(t, 1, count, "node %s emitted %d times", label, count)
	}
}

func TestBuildLeafChildrenAbsentInJSON(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "parent", Order: 1},
		{ID: 2, ParentID: 1, Label: "leaf", Order: 1},
	}

	tree, _ := nav.Build(nodes)
	require.Len(t, tree, 1)
	require.Nil(t, tree[0].Children[0].Children)

	raw, err := json.Marshal(tree[0].Children[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"children"`)
}

func TestBuildNormalizesLinks(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "no-link", Link: "", Order: 1},
		{ID: 2, ParentID: nav.RootParentID, Label: "linked", Link: "/inventory", Order: 2},
	}

	tree, _ := nav.Build(nodes)
	require.Len(t, tree, 2)
	assert.Empty(t, tree[0].Link)
	assert.Equal(t, "/inventory", tree[1].Link)

	raw, err := json.Marshal(tree[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"link"`)
}

func TestBuildDefaultsMissingIcon(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "bare", Order: 1},
		{ID: 2, ParentID: nav.RootParentID, Label: "decorated", Icon: "bi-graph-up", Order: 2},
	}

	tree, _ := nav.Build(nodes)
	require.Len(t, tree, 2)
	assert.Equal(t, nav.DefaultIcon, tree[0].Icon)
	assert.Equal(t, "bi-graph-up", tree[1].Icon)
}

func TestBuildDeduplicatesCapabilities(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "a", Grants: []string{"inventory:read", "inventory:write"}, Order: 1},
		{ID: 2, ParentID: 1, Label: "b", Grants: []string{"inventory:read", "reports:read"}, Order: 1},
	}

	_, caps := nav.Build(nodes)
	assert.Equal(t, []string{"inventory:read", "inventory:write", "reports:read"}, caps)
}

func TestBuildSurvivesCyclicParentChain(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "root-entry", Grants: []string{"core:read"}, Order: 1},
		// 2 and 3 reference each other and never reach the root.
		{ID: 2, ParentID: 3, Label: "orphan-a", Grants: []string{"orphan:a"}, Order: 1},
		{ID: 3, ParentID: 2, Label: "orphan-b", Grants: []string{"orphan:b"}, Order: 1},
	}

	tree, caps := nav.Build(nodes)
	require.Len(t, tree, 1)
	assert.Equal(t, "root-entry", tree[0].Label)
	// Capabilities still union every input node, reachable or not.
	assert.Equal(t, []string{"core:read", "orphan:a", "orphan:b"}, caps)
}

func TestBuildSelfReferencingChildTerminates(t *testing.T) {
	nodes := []identity.PermissionNode{
		{ID: 1, ParentID: nav.RootParentID, Label: "top", Order: 1},
		{ID: 2, ParentID: 1, Label: "loop", Order: 1},
		// 2 is also its own ancestor through 3.
		{ID: 3, ParentID: 2, Label: "inner", Order: 1},
	}
	nodes[1].ParentID = 3 // 2 -> 3 -> 2 cycle hung off a reachable parent

	tree, _ := nav.Build(nodes)
	require.Len(t, tree, 1)
	assert.Equal(t, "top", tree[0].Label)
}
