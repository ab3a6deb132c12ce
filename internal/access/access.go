// Package access derives a requester's effective role on a timeline from its
// stored owner id and collaborator-role map. Pure functions of their inputs.
package access

import "strings"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

// CollaboratorRole reports whether a string names a role a collaborator can
// hold. Owner is never assignable; it belongs to the creator alone.
func CollaboratorRole(role string) bool {
	return role == string(RoleViewer) || role == string(RoleEditor)
}

// NormalizeEmail lowercases and trims an email for use as a collaborator key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Eval computes the requester's role. Ownership is matched by user id;
// collaborators are matched by normalized email against the role map.
func Eval(ownerID string, collaboratorRoles map[string]string, requesterID, requesterEmail string) Role {
	if requesterID != "" && requesterID == ownerID {
		return RoleOwner
	}
	email := NormalizeEmail(requesterEmail)
	if email == "" {
		return RoleNone
	}
	switch collaboratorRoles[email] {
	case string(RoleEditor):
		return RoleEditor
	case string(RoleViewer):
		return RoleViewer
	default:
		return RoleNone
	}
}

func CanRead(isPublic bool, role Role) bool {
	return isPublic || role != RoleNone
}

func CanWrite(role Role) bool {
	return role == RoleOwner || role == RoleEditor
}

func CanManageCollaborators(role Role) bool {
	return role == RoleOwner
}
