package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers snapshots, search, export and history.
	ActionRead Action = "read"
	// ActionWrite covers direct shape edits and room deltas.
	ActionWrite Action = "write"
	// ActionAgent covers AI commands and tool calls.
	ActionAgent Action = "agent"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionAgent
	case RoleAgent:
		return action == ActionRead || action == ActionAgent
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAgent, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
