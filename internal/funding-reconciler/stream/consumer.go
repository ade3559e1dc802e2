package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/funding"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
)

// Decoder transforma um registro do stream em invoice
type Decoder interface {
	DecodeUpdate(record []byte) (lnd.Invoice, error)
}

// Consumer mantém uma assinatura do stream de invoices e liquida as SETTLED.
// Não há cursor: o que se perder entre reconexões fica para o polling
type Consumer struct {
	Log              *zap.Logger
	Subscriber       lnd.Subscriber
	Decoder          Decoder
	Applier          *funding.Applier
	MaxRecord        int
	ResubscribeDelay time.Duration

	OnRecord func()
	OnError  func(stage string)
}

// Run assina, consome e reassina após ResubscribeDelay até ctx ser cancelado
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			c.Log.Info("invoice stream ended, resubscribing", zap.Duration("delay", c.ResubscribeDelay))
		} else {
			c.Log.Warn("invoice stream failed, resubscribing", zap.Error(err), zap.Duration("delay", c.ResubscribeDelay))
			c.fail("subscribe")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.ResubscribeDelay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	src, err := c.Subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer src.Close()
	c.Log.Info("subscribed to invoice stream")

	framer := NewFramer(c.MaxRecord)
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			return err
		}

		records, ferr := framer.Push(chunk)
		for _, rec := range records {
			c.HandleRecord(ctx, rec)
		}
		if ferr != nil {
			c.Log.Warn("dropping oversized record", zap.Error(ferr))
			c.fail("frame")
		}
	}
}

// HandleRecord decodifica e aplica um registro. Registros inválidos são
// logados e descartados; o polling cobre o que não for aplicado aqui
func (c *Consumer) HandleRecord(ctx context.Context, rec []byte) {
	if c.OnRecord != nil {
		c.OnRecord()
	}

	inv, err := c.Decoder.DecodeUpdate(rec)
	if err != nil {
		c.Log.Warn("invalid invoice record", zap.Error(err), zap.ByteString("record", truncate(rec, 512)))
		c.fail("decode")
		return
	}
	if inv.State != lnd.StateSettled {
		c.Log.Debug("invoice update ignored", zap.String("payment_addr", inv.PaymentAddr), zap.String("state", inv.State))
		return
	}

	if _, err := c.Applier.Apply(ctx, inv, funding.SourceStream); err != nil {
		c.Log.Error("apply settled invoice", zap.String("payment_addr", inv.PaymentAddr), zap.Error(err))
		c.fail("settle")
	}
}

func (c *Consumer) fail(stage string) {
	if c.OnError != nil {
		c.OnError(stage)
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
