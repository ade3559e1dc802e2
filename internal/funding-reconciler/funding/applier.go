package funding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
	"github.com/radieske/wager-settlement-platform/internal/ledger"
	"github.com/radieske/wager-settlement-platform/pkg/contracts/events"
)

// Origem da confirmação
const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// Ledger aplica a liquidação exatamente uma vez por payment_addr
type Ledger interface {
	SettleFunding(ctx context.Context, paymentAddr string, paid int64) (ledger.Entry, bool, error)
}

// Applier é o ponto único onde stream e polling liquidam depósitos.
// Entregas repetidas e sobreposição entre os dois caminhos viram no-op no ledger
type Applier struct {
	Log    *zap.Logger
	Ledger Ledger

	OnApplied     func(source string)
	OnDuplicate   func(source string)
	OnAfterSettle func(ev events.FundingSettled)
}

// Apply liquida a invoice se ela estiver SETTLED. Retorna true só quando
// esta chamada moveu saldo
func (a *Applier) Apply(ctx context.Context, inv lnd.Invoice, source string) (bool, error) {
	if inv.State != lnd.StateSettled {
		return false, nil
	}
	paid, err := inv.PaidAmount()
	if err != nil {
		return false, fmt.Errorf("%w: %v", lnd.ErrMalformed, err)
	}

	entry, applied, err := a.Ledger.SettleFunding(ctx, inv.PaymentAddr, paid)
	if err != nil {
		return false, fmt.Errorf("settle funding %s: %w", inv.PaymentAddr, err)
	}
	if !applied {
		a.Log.Debug("funding already settled or unknown",
			zap.String("payment_addr", inv.PaymentAddr), zap.String("source", source))
		if a.OnDuplicate != nil {
			a.OnDuplicate(source)
		}
		return false, nil
	}

	a.Log.Info("funding settled",
		zap.Int64("transaction_id", entry.ID),
		zap.String("account", entry.Account),
		zap.String("payment_addr", inv.PaymentAddr),
		zap.Int64("amount_paid", paid),
		zap.String("source", source),
	)
	if a.OnApplied != nil {
		a.OnApplied(source)
	}
	if a.OnAfterSettle != nil {
		a.OnAfterSettle(events.FundingSettled{
			TransactionID: entry.ID,
			Account:       entry.Account,
			PaymentAddr:   inv.PaymentAddr,
			AmountPaid:    paid,
			Source:        source,
			Ts:            time.Now().UTC(),
		})
	}
	return true, nil
}
