package broadcaster

import (
	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/db/models"
)

func (b *Broadcaster) PublishTransaction(txn *models.Transaction, eventType EventType, message string) {
	if txn == nil {
		return
	}
	amount := txn.Amount
	var txnID string
	if txn.ID != uuid.Nil {
		txnID = txn.ID.String()
	}
	b.Publish(StatusUpdate{
		EventType:     eventType,
		TransactionID: txnID,
		Status:        string(txn.Status),
		FromWallet:    txn.FromWallet,
		ToWallet:      txn.ToWallet,
		Amount:        &amount,
		Currency:      string(txn.Currency),
		FraudScore:    txn.FraudScore,
		Message:       message,
	})
}

func (b *Broadcaster) PublishFraudScore(txn *models.Transaction, score float64) {
	if txn == nil {
		return
	}
	level := RiskLevel(score)
	b.Publish(StatusUpdate{
		EventType:     EventFraudScoreUpdated,
		TransactionID: txn.ID.String(),
		Status:        string(txn.Status),
		FromWallet:    txn.FromWallet,
		ToWallet:      txn.ToWallet,
		FraudScore:    &score,
		RiskLevel:     level,
		Message:       level + " fraud risk",
	})
}

// PublishBalance reports a wallet's new balance. transactionID may be uuid.Nil for funding.
func (b *Broadcaster) PublishBalance(balance models.WalletBalance, transactionID uuid.UUID) {
	value := balance.Balance
	u := StatusUpdate{
		EventType: EventBalanceUpdated,
		WalletID:  balance.WalletID,
		Currency:  string(balance.Currency),
		Balance:   &value,
	}
	if transactionID != uuid.Nil {
		u.TransactionID = transactionID.String()
	}
	b.Publish(u)
}

func (b *Broadcaster) PublishCase(fc *models.FraudCase, message string) {
	if fc == nil {
		return
	}
	amount := fc.Amount
	b.Publish(StatusUpdate{
		EventType:     EventCaseUpdated,
		TransactionID: fc.TransactionID.String(),
		CaseID:        fc.ID.String(),
		Status:        string(fc.Status),
		Amount:        &amount,
		Currency:      string(fc.Currency),
		Message:       message,
	})
}
