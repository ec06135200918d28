package enums

import "fmt"

// NotificationType identifies the template of an in-app notification.
type NotificationType string

const (
	NotificationTypeFraudReportConfirmation NotificationType = "fraud_report_confirmation"
	NotificationTypeCaseStatusUpdate        NotificationType = "case_status_update"
	NotificationTypeArbitrationAssignment   NotificationType = "arbitration_assignment"
	NotificationTypeArbitrationDecision     NotificationType = "arbitration_decision"
	NotificationTypeEscalationAlert         NotificationType = "escalation_alert"
	NotificationTypeReversalCompletion      NotificationType = "reversal_completion"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeFraudReportConfirmation,
	NotificationTypeCaseStatusUpdate,
	NotificationTypeArbitrationAssignment,
	NotificationTypeArbitrationDecision,
	NotificationTypeEscalationAlert,
	NotificationTypeReversalCompletion,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
