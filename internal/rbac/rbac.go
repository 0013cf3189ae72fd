package rbac

import "github.com/chat-escrow/backend/internal/models"

// Role constants
const (
	RoleParty    = "party"
	RoleSender   = "sender"
	RoleReceiver = "receiver"
	RoleOperator = "operator"
)

// Permission constants
const (
	PermChooseRole      = "choose_role"
	PermCancelSetup     = "cancel_setup"
	PermConfirm         = "confirm"
	PermCancelConfirm   = "cancel_confirm"
	PermEnterAmount     = "enter_amount"
	PermRelease         = "release"
	PermOverrideRelease = "override_release"
	PermViewDeal        = "view_deal"
	PermRefreshRate     = "refresh_rate"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleParty: {
		PermChooseRole, PermCancelSetup, PermViewDeal,
	},
	RoleSender: {
		PermConfirm, PermCancelConfirm, PermCancelSetup, PermEnterAmount, PermRelease, PermViewDeal,
	},
	RoleReceiver: {
		PermConfirm, PermCancelConfirm, PermCancelSetup, PermViewDeal,
		// Receiver CANNOT: PermEnterAmount, PermRelease
	},
	RoleOperator: {
		PermRelease, PermOverrideRelease, PermViewDeal, PermRefreshRate,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RolesInDeal lists the roles userID holds in deal.
func RolesInDeal(deal *models.Deal, userID int64, operator bool) []string {
	var roles []string
	if deal.CreatorID == userID || deal.CounterpartyID == userID {
		roles = append(roles, RoleParty)
	}
	if deal.IsSender(userID) {
		roles = append(roles, RoleSender)
	}
	if deal.IsReceiver(userID) {
		roles = append(roles, RoleReceiver)
	}
	if operator {
		roles = append(roles, RoleOperator)
	}
	return roles
}

// Can reports whether any of userID's roles in deal grants permission.
func Can(deal *models.Deal, userID int64, operator bool, permission string) bool {
	for _, role := range RolesInDeal(deal, userID, operator) {
		if HasPermission(role, permission) {
			return true
		}
	}
	return false
}

// IsFinancialOperation checks if permission moves funds.
func IsFinancialOperation(permission string) bool {
	return permission == PermRelease || permission == PermOverrideRelease
}
