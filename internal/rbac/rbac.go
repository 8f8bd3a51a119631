package rbac

type Role string
type Action string

const (
	RoleLawyer  Role = "lawyer"
	RoleClient  Role = "client"
	RoleUnknown Role = "unknown"
)

const (
	ActionViewCase       Action = "view_case"
	ActionUploadDocument Action = "upload_document"
	ActionUpdateCase     Action = "update_case"
	ActionListCases      Action = "list_cases"
)

// Can reports whether role may perform action. Every role other than
// lawyer is served the client dashboard, so it gets client permissions.
func Can(role Role, action Action) bool {
	switch role {
	case RoleLawyer:
		return true
	default:
		return action == ActionViewCase || action == ActionUploadDocument
	}
}

// Normalize maps a stored role value onto a known Role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleLawyer, RoleClient:
		return Role(role)
	default:
		return RoleUnknown
	}
}
