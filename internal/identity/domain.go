package identity

import "sort"

// Credential carries the opaque tokens issued by the identity provider.
// The ID token is optional; only the access token is required for the
// lifetime of a session.
type Credential struct {
	AccessToken string `json:"accessToken"`
	IDToken     string `json:"idToken,omitempty"`
}

// Profile describes the authenticated operator. Role and permission
// membership is kept as sets so lookups stay O(1).
type Profile struct {
	ID       int64
	Username string
	FullName string

	roles       map[string]struct{}
	permissions map[string]struct{}
}

// NewProfile constructs a Profile from list-shaped role and permission data.
func NewProfile(id int64, username, fullName string, roles, permissions []string) *Profile {
	return &Profile{
		ID:          id,
		Username:    username,
		FullName:    fullName,
		roles:       toSet(roles),
		permissions: toSet(permissions),
	}
}

// HasRole reports whether the profile carries the given role.
func (p *Profile) HasRole(name string) bool {
	if p == nil {
		return false
	}
	_, ok := p.roles[name]
	return ok
}

// HasPermission reports whether the profile carries the given capability.
func (p *Profile) HasPermission(key string) bool {
	if p == nil {
		return false
	}
	_, ok := p.permissions[key]
	return ok
}

// RoleList returns the roles as a sorted list.
func (p *Profile) RoleList() []string {
	return toList(p.roles)
}

// PermissionList returns the capabilities as a sorted list.
func (p *Profile) PermissionList() []string {
	return toList(p.permissions)
}

// WithPermissions returns a copy of the profile carrying the given capability
// set. The receiver is never mutated: published profiles are read concurrently
// by permission checks, so a background refresh swaps in a fresh copy instead
// of writing through the shared one.
func (p *Profile) WithPermissions(permissions []string) *Profile {
	return &Profile{
		ID:          p.ID,
		Username:    p.Username,
		FullName:    p.FullName,
		roles:       p.roles,
		permissions: toSet(permissions),
	}
}

// PermissionNode is one raw entry of the flat permission graph served by the
// permission endpoint. ParentID references another node, or RootParentID for
// top-level entries. Link may be empty for non-navigable grouping nodes.
type PermissionNode struct {
	ID       int64    `json:"id"`
	ParentID int64    `json:"parentId"`
	Label    string   `json:"label"`
	Link     string   `json:"link"`
	Icon     string   `json:"icon"`
	Grants   []string `json:"permissionsGranted"`
	Order    int      `json:"order"`
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, item := range list {
		set[item] = struct{}{}
	}
	return set
}

func toList(set map[string]struct{}) []string {
	list := make([]string, 0, len(set))
	for item := range set {
		list = append(list, item)
	}
	sort.Strings(list)
	return list
}
