package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleOperator can place outbound calls, run live sessions, and
	// manage agent definitions.
	RoleOperator = "operator"

	// RoleAgentUser can run live sessions against assigned agents but
	// cannot touch the agent registry or the phone-number inventory.
	RoleAgentUser = "agent_user"
)

func IsKnownRole(role string) bool {
	switch role {
	case RoleOperator, RoleAgentUser:
		return true
	default:
		return false
	}
}
