// Package enrollment activates and expires enrollments and derives their
// access status from payment, approval and subscription state.
package enrollment

import "github.com/and161185/lms-core/internal/model"

// PaymentStatus is the payment provider's view of an enrollment.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// ApprovalStatus is the admin review state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending_review"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// SubscriptionStatus mirrors the billing provider's subscription states.
type SubscriptionStatus string

const (
	SubActive            SubscriptionStatus = "active"
	SubPastDue           SubscriptionStatus = "past_due"
	SubUnpaid            SubscriptionStatus = "unpaid"
	SubCanceled          SubscriptionStatus = "canceled"
	SubIncomplete        SubscriptionStatus = "incomplete"
	SubIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubTrialing          SubscriptionStatus = "trialing"
	SubPaused            SubscriptionStatus = "paused"
)

// ComputeAccessStatus folds the three inputs into an access status. Access is
// active only when paid, approved and the subscription is active or trialing.
// Rejection and a dead subscription cancel; a refund wins over other failures.
func ComputeAccessStatus(p PaymentStatus, a ApprovalStatus, sub SubscriptionStatus) model.EnrollmentStatus {
	if a == ApprovalRejected {
		return model.StatusCanceled
	}
	if sub == SubCanceled || sub == SubUnpaid {
		return model.StatusCanceled
	}
	if p == PaymentRefunded {
		return model.StatusRefunded
	}
	if p == PaymentFailed || sub == SubPastDue || sub == SubIncompleteExpired {
		return model.StatusCanceled
	}
	if p == PaymentPaid && a == ApprovalApproved && (sub == SubActive || sub == SubTrialing) {
		return model.StatusActive
	}
	return model.StatusPendingApproval
}
