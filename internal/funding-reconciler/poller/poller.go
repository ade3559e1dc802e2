package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/funding"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
	"github.com/radieske/wager-settlement-platform/internal/ledger"
	"github.com/radieske/wager-settlement-platform/internal/shared/lock"
)

// OpenEntries entrega lotes de depósitos ainda OPEN, em rodízio pela última consulta
type OpenEntries interface {
	ClaimStaleOpen(ctx context.Context, olderThan time.Time, limit int) ([]ledger.Entry, error)
}

type Lookuper interface {
	Lookup(ctx context.Context, paymentAddr string) (lnd.Invoice, error)
}

const lockName = "funding-poller"

// Poller é o caminho de reserva do stream: consulta direto na rede de pagamento
// os depósitos OPEN mais velhos que MinAge. MinAge fica acima da expiração da
// invoice para não disputar com uma liquidação legítima ainda pendente
type Poller struct {
	Log      *zap.Logger
	Entries  OpenEntries
	Invoices Lookuper
	Applier  *funding.Applier
	Lock     lock.Locker

	MinAge    time.Duration
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
	Now       func() time.Time

	OnError func(stage string)
}

func (p *Poller) Run(ctx context.Context) error {
	for {
		err := lock.WithLock(ctx, p.Log, p.Lock, lockName, p.LockTTL, func(ctx context.Context) error {
			_, err := p.PollOnce(ctx)
			return err
		})
		switch {
		case errors.Is(err, lock.ErrLockHeld):
			p.Log.Debug("cycle skipped, lock held by another replica")
		case err != nil && ctx.Err() == nil:
			p.Log.Error("funding poll cycle failed", zap.Error(err))
			p.fail("cycle")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
}

// PollOnce verifica um lote e retorna quantos depósitos foram liquidados
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	entries, err := p.Entries.ClaimStaleOpen(ctx, now().Add(-p.MinAge), p.BatchSize)
	if err != nil {
		return 0, err
	}
	p.Log.Debug("stale open deposits", zap.Int("count", len(entries)))

	applied := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		log := p.Log.With(zap.Int64("transaction_id", e.ID), zap.String("payment_addr", e.PaymentAddr))

		inv, err := p.Invoices.Lookup(ctx, e.PaymentAddr)
		if err != nil {
			stage := "lookup"
			if errors.Is(err, lnd.ErrMalformed) {
				stage = "decode"
			}
			log.Warn("invoice lookup failed", zap.Error(err))
			p.fail(stage)
			continue
		}

		switch inv.State {
		case lnd.StateSettled:
			// a referência do ledger é a chave; a da resposta pode vir em outra codificação
			inv.PaymentAddr = e.PaymentAddr
			ok, err := p.Applier.Apply(ctx, inv, funding.SourcePoll)
			if err != nil {
				log.Error("apply settled invoice", zap.Error(err))
				p.fail("settle")
				continue
			}
			if ok {
				applied++
			}
		case lnd.StateCanceled:
			// não existe estado para isso no ledger: fica OPEN e volta para o fim da fila
			log.Info("invoice canceled, deposit stays open")
		default:
			log.Debug("invoice not settled yet", zap.String("state", inv.State))
		}
	}
	return applied, nil
}

func (p *Poller) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
