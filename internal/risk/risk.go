// Package risk talks to the external fraud-scoring service.
package risk

import (
	"context"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/db/models"
)

// Scorer rates a settled transaction. Scores are in [0,1].
type Scorer interface {
	RiskScore(ctx context.Context, txn *models.Transaction) (float64, error)
}

// ConfidenceSource reports how confident the detector is that a reported case is fraud.
type ConfidenceSource interface {
	FraudConfidence(ctx context.Context, caseID, transactionID uuid.UUID) (float64, error)
}
