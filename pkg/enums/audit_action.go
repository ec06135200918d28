package enums

// AuditAction labels an audit trail entry.
type AuditAction string

const (
	AuditActionCreated          AuditAction = "CREATED"
	AuditActionStatusChange     AuditAction = "STATUS_CHANGE"
	AuditActionFraudScoreUpdate AuditAction = "FRAUD_SCORE_UPDATE"
	AuditActionOwnership        AuditAction = "OWNERSHIP_TRANSFER"
	AuditActionBulkStatusUpdate AuditAction = "BULK_STATUS_UPDATE"
	AuditActionIssued           AuditAction = "ISSUED"
	AuditActionDestroyed        AuditAction = "DESTROYED"
	AuditActionReversed         AuditAction = "REVERSED"
)

func (a AuditAction) String() string {
	return string(a)
}
