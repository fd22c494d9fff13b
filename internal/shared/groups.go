package shared

// Capability groups recognised by the approval engine. Group names are
// stable and referenced from scripts, so never rename them.
const (
	GroupPaymentReviewer   = "payment_reviewer"
	GroupPaymentApprover   = "payment_approver"
	GroupPaymentAuthorizer = "payment_authorizer"
	GroupPaymentPoster     = "payment_poster"
	GroupPaymentManager    = "payment_manager"
	GroupPaymentAdmin      = "payment_admin"
)

// KnownGroups lists every group the engine understands.
var KnownGroups = []string{
	GroupPaymentReviewer,
	GroupPaymentApprover,
	GroupPaymentAuthorizer,
	GroupPaymentPoster,
	GroupPaymentManager,
	GroupPaymentAdmin,
}

// IsKnownGroup reports whether name is a recognised capability group.
func IsKnownGroup(name string) bool {
	for _, g := range KnownGroups {
		if g == name {
			return true
		}
	}
	return false
}
