// Package nav derives the hierarchical navigation menu from the flat
// permission graph served by the identity provider.
package nav

import (
	"sort"

	"github.com/meridian-gw/meridian-gw/internal/identity"
)

// RootParentID is the sentinel parent id marking top-level nodes.
const RootParentID int64 = 0

// DefaultIcon is the fallback glyph for nodes that ship without one.
const DefaultIcon = "bi-circle"

// Item is one entry of the derived navigation tree. Children is nil for a
// leaf, never an empty slice: renderers distinguish "no submenu" from a
// collapsed submenu by the field being absent.
type Item struct {
	Label    string   `json:"label"`
	Icon     string   `json:"icon"`
	Link     string   `json:"link,omitempty"`
	Required []string `json:"requiredPermissions,omitempty"`
	Children []Item   `json:"children,omitempty"`
	IsOpen   bool     `json:"isOpen"`
}

// Build turns the flat node list into an ordered navigation forest and the
// deduplicated capability set implied by every node. Siblings are ordered by
// their Order field ascending, stable on ties. The input is not trusted to be
// acyclic: a per-branch visited set breaks malformed parent chains, so cycle
// members unreachable from the root are dropped instead of recursed into
// forever.
func Build(nodes []identity.PermissionNode) ([]Item, []string) {
	byParent := make(map[int64][]identity.PermissionNode, len(nodes))
	for _, node := range nodes {
		byParent[node.ParentID] = append(byParent[node.ParentID], node)
	}

	capabilities := make(map[string]struct{})
	for _, node := range nodes {
		for _, grant := range node.Grants {
			capabilities[grant] = struct{}{}
		}
	}

	visited := make(map[int64]struct{})
	tree := buildChildren(RootParentID, byParent, visited)

	caps := make([]string, 0, len(capabilities))
	for key := range capabilities {
		caps = append(caps, key)
	}
	sort.Strings(caps)
	return tree, caps
}

func buildChildren(parentID int64, byParent map[int64][]identity.PermissionNode, visited map[int64]struct{}) []Item {
	selected := byParent[parentID]
	if len(selected) == 0 {
		return nil
	}

	ordered := make([]identity.PermissionNode, len(selected))
	copy(ordered, selected)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	items := make([]Item, 0, len(ordered))
	for _, node := range ordered {
		if _, seen := visited[node.ID]; seen {
			continue
		}
		visited[node.ID] = struct{}{}
		children := buildChildren(node.ID, byParent, visited)
		delete(visited, node.ID)

		icon := node.Icon
		if icon == "" {
			icon = DefaultIcon
		}
		items = append(items, Item{
			Label:    node.Label,
			Icon:     icon,
			Link:     node.Link,
			Required: node.Grants,
			Children: children,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return items
}
