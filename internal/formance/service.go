// Package formance mirrors slot purchases and claim payouts into a Formance
// Stack ledger as double-entry Numscript transactions. The slot ledger stays
// the source of truth; the mirror is an external journal that finance tooling
// can audit against.
package formance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slot-ledger-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const defaultLedgerName = "slot-ledger"

// ErrMirrorUnavailable is returned while the breaker is open
var ErrMirrorUnavailable = errors.New("formance mirror unavailable")

// transactionPoster is the slice of the Formance ledger API the mirror needs.
// *v3.Formance's Ledger.V2 satisfies it.
type transactionPoster interface {
	CreateTransaction(ctx context.Context, request operations.V2CreateTransactionRequest, opts ...operations.Option) (*operations.V2CreateTransactionResponse, error)
}

// Service posts slot ledger movements to a Formance Stack ledger.
type Service struct {
	poster    transactionPoster
	ledger    string
	precision int32
	breaker   *gobreaker.CircuitBreaker
}

// NewService connects to the stack, creates the ledger if it doesn't already
// exist, and returns ready to post. Amounts are sent in minor units of the
// settlement precision.
func NewService(ctx context.Context, cfg models.FormanceConfig, precision int32) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedgerName
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	if err := ensureLedger(ctx, client, cfg.LedgerName); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	svc := newService(client.Ledger.V2, cfg.LedgerName, precision)
	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

func newService(poster transactionPoster, ledger string, precision int32) *Service {
	return &Service{
		poster:    poster,
		ledger:    ledger,
		precision: precision,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "formance",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A duplicate reference means the movement is already journaled
			IsSuccessful: func(err error) bool {
				return err == nil || isConflictError(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				zap.L().Warn("Formance breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// ensureLedger creates the ledger if it does not already exist.
func ensureLedger(ctx context.Context, client *v3.Formance, ledger string) error {
	_, err := client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "slot-ledger",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", ledger))
	return nil
}

// post sends one Numscript transaction through the breaker. A reference the
// ledger has already seen counts as posted.
func (s *Service) post(ctx context.Context, reference, numscript string, vars map[string]string, at time.Time) error {
	postTx := shared.V2PostTransaction{
		Reference: strPtr(reference),
		Script: &shared.V2PostTransactionScript{
			Plain: numscript,
			Vars:  vars,
		},
	}
	if !at.IsZero() {
		t := at.UTC()
		postTx.Timestamp = &t
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.poster.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
			Ledger:            s.ledger,
			V2PostTransaction: postTx,
		})
	})
	switch {
	case err == nil:
		return nil
	case isConflictError(err):
		zap.L().Debug("Transaction already in Formance", zap.String("reference", reference))
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	default:
		return fmt.Errorf("failed to post %s: %w", reference, err)
	}
}

// ---------- helpers ----------

// formanceAsset returns the Formance UMN notation, e.g. "USDT/6".
func formanceAsset(symbol string, precision int32) string {
	return fmt.Sprintf("%s/%d", symbol, precision)
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func strPtr(s string) *string { return &s }
