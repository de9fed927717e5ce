package rbac

type Role string
type Action string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionWrite       Action = "write"
	ActionApprove     Action = "approve"
	ActionPurgeTenant Action = "purge_tenant"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAgent:
		return action == ActionRead || action == ActionWrite || action == ActionApprove
	default:
		return false
	}
}

// Normalize maps unknown roles to agent, the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAgent, RoleAdmin:
		return Role(role)
	default:
		return RoleAgent
	}
}
