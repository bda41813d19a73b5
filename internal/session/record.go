package session

import (
	"github.com/meridian-gw/meridian-gw/internal/identity"
	"github.com/meridian-gw/meridian-gw/internal/nav"
)

// Storage keys, one per session field. The record is only considered live
// when every required key is present and parses; a partial write (for
// example a credential persisted before permissions arrived) never
// rehydrates into a session.
const (
	keyRecordID    = "session:record_id"
	keyAccessToken = "session:access_token"
	keyIDToken     = "session:id_token"
	keyUserID      = "session:user_id"
	keyUsername    = "session:username"
	keyFullName    = "session:full_name"
	keyRoles       = "session:roles"
	keyPermissions = "session:permissions"
	keyNavTree     = "session:nav_tree"
)

// sessionKeys lists every key a backend may hold, for clearing.
var sessionKeys = []string{
	keyRecordID,
	keyAccessToken,
	keyIDToken,
	keyUserID,
	keyUsername,
	keyFullName,
	keyRoles,
	keyPermissions,
	keyNavTree,
}

// Record is the full persisted session. Permissions and NavTree are nil on a
// phase-one record (credential stored, permissions not yet fetched); such a
// record deliberately fails to load.
type Record struct {
	RecordID    string
	Credential  identity.Credential
	UserID      int64
	Username    string
	FullName    string
	Roles       []string
	Permissions []string
	NavTree     []nav.Item

	// Remembered reports which backend the record was loaded from. It is
	// populated by Load and never persisted.
	Remembered bool
}

// Profile materializes the identity carried by the record.
func (r *Record) Profile() *identity.Profile {
	return identity.NewProfile(r.UserID, r.Username, r.FullName, r.Roles, r.Permissions)
}
