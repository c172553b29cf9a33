// internal/ledger/executor.go
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// IntentExecutor is the default PaymentExecutor. It does not move money; it
// mints settlement intent references and logs them so a downstream payment
// processor can pick the intents up from the archived pool rows. Swap in a
// real executor to integrate a provider.
type IntentExecutor struct {
	Logger *log.Logger
}

// NewIntentExecutor returns an executor logging to the given logger, or the
// standard one when nil.
func NewIntentExecutor(logger *log.Logger) *IntentExecutor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &IntentExecutor{Logger: logger}
}

func (e *IntentExecutor) ExecutePayout(ctx context.Context, poolID, playerID uuid.UUID, amount int64, currency string) (string, error) {
	ref := fmt.Sprintf("payout_%s", uuid.New())
	e.Logger.WithFields(log.Fields{
		"pool_id":   poolID,
		"player_id": playerID,
		"amount":    amount,
		"currency":  currency,
		"reference": ref,
	}).Info("ledger: payout intent")
	return ref, nil
}

func (e *IntentExecutor) ExecuteRefund(ctx context.Context, poolID, playerID uuid.UUID, amount int64, currency string) (string, error) {
	ref := fmt.Sprintf("refund_%s", uuid.New())
	e.Logger.WithFields(log.Fields{
		"pool_id":   poolID,
		"player_id": playerID,
		"amount":    amount,
		"currency":  currency,
		"reference": ref,
	}).Info("ledger: refund intent")
	return ref, nil
}
