package domain

// Role is a member's access level for one dashboard. It is resolved once
// at join time from the dashboard's owner/collaborator list and does not
// change for the lifetime of the session.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}
