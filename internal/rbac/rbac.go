// Package rbac maps reviewer roles to the actions the review API allows.
package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	// ActionRead lists reviews, ledger history, cache and breaker state.
	ActionRead Action = "read"
	// ActionReview approves or rejects a pending review.
	ActionReview Action = "review"
	// ActionAdmin triggers sync passes, cleanup and audit log access.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionReview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
