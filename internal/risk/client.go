package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

const (
	scorePath               = "/v1/risk/score"
	confidencePath          = "/v1/fraud/confidence"
	responseReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("risk service base url is required")

// HTTPClient implements Scorer and ConfidenceSource against the risk service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &HTTPClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type scoreRequest struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	FromWallet    string          `json:"from_wallet"`
	ToWallet      string          `json:"to_wallet"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      enums.Currency  `json:"currency"`
	Timestamp     time.Time       `json:"timestamp"`
}

type confidenceRequest struct {
	CaseID        uuid.UUID `json:"case_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

func (c *HTTPClient) RiskScore(ctx context.Context, txn *models.Transaction) (float64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "risk client not configured")
	}
	if txn == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	var resp struct {
		RiskScore *float64 `json:"riskScore"`
	}
	err := c.post(ctx, scorePath, scoreRequest{
		TransactionID: txn.ID,
		FromWallet:    txn.FromWallet,
		ToWallet:      txn.ToWallet,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Timestamp:     txn.CreatedAt,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return unitInterval(resp.RiskScore, "risk score")
}

func (c *HTTPClient) FraudConfidence(ctx context.Context, caseID, transactionID uuid.UUID) (float64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "risk client not configured")
	}
	var resp struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := c.post(ctx, confidencePath, confidenceRequest{CaseID: caseID, TransactionID: transactionID}, &resp); err != nil {
		return 0, err
	}
	return unitInterval(resp.Confidence, "fraud confidence")
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal risk request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build risk request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := pkgerrors.FromContext(ctx.Err(), "risk request timed out"); ctxErr != nil {
			return ctxErr
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute risk request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "risk request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode risk response")
	}
	return nil
}

func unitInterval(v *float64, what string) (float64, error) {
	if v == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, what+" missing from response")
	}
	if *v < 0 || *v > 1 {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s %v outside [0,1]", what, *v))
	}
	return *v, nil
}
