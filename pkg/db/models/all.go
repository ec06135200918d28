package models

// All lists every persisted model. Tests use it with AutoMigrate.
func All() []any {
	return []any{
		&Transaction{},
		&TransactionAudit{},
		&WalletBalance{},
		&Token{},
		&TokenAuditEntry{},
		&FraudCase{},
		&Notification{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
