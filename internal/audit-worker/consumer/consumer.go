package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/pkg/contracts/events"
)

// MessageReader é o subconjunto do *kafka.Reader usado aqui
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Auditor compara saldo materializado com a soma das linhas SETTLED
type Auditor interface {
	Audit(ctx context.Context, account string) (balance, settledSum int64, err error)
}

// Processor consome os eventos de liquidação e audita cada conta afetada.
// Não altera o ledger: divergência é logada e contada
type Processor struct {
	Log    *zap.Logger
	Reader MessageReader
	Ledger Auditor
	DLQ    MessageWriter // opcional; recebe mensagens que não decodificam

	ChallengeTopic string
	FundingTopic   string
	ReadBackoff    time.Duration

	OnConsumed func(topic string)
	OnMismatch func(account string)
	OnError    func(stage string)
}

// Run inicia o loop de consumo até ctx ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.ReadBackoff):
			}
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed(m.Topic)
		}
		p.Handle(ctx, m)
	}
}

// Handle audita as contas citadas por uma mensagem
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	accounts, err := p.accounts(m)
	if err != nil {
		p.Log.Warn("invalid settlement event", zap.String("topic", m.Topic), zap.Error(err))
		p.fail("decode")
		p.deadLetter(ctx, m)
		return
	}

	for _, acc := range accounts {
		balance, settled, err := p.Ledger.Audit(ctx, acc)
		if err != nil {
			p.Log.Warn("audit failed", zap.String("account", acc), zap.Error(err))
			p.fail("audit")
			continue
		}
		if balance != settled {
			p.Log.Error("ledger mismatch",
				zap.String("account", acc),
				zap.Int64("balance", balance),
				zap.Int64("settled_sum", settled),
				zap.String("topic", m.Topic),
				zap.ByteString("key", m.Key),
			)
			if p.OnMismatch != nil {
				p.OnMismatch(acc)
			}
		}
	}
}

// accounts extrai as contas afetadas, sem repetição e em ordem estável
func (p *Processor) accounts(m kafka.Message) ([]string, error) {
	set := map[string]struct{}{}

	switch m.Topic {
	case p.ChallengeTopic:
		var ev events.ChallengeSettled
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return nil, err
		}
		if ev.ChallengeID == 0 {
			return nil, fmt.Errorf("challenge_settled without challenge_id")
		}
		for _, po := range ev.Payouts {
			if po.Account != "" {
				set[po.Account] = struct{}{}
			}
		}
	case p.FundingTopic:
		var ev events.FundingSettled
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return nil, err
		}
		if ev.Account == "" {
			return nil, fmt.Errorf("funding_settled without account")
		}
		set[ev.Account] = struct{}{}
	default:
		return nil, fmt.Errorf("unexpected topic %q", m.Topic)
	}

	out := make([]string, 0, len(set))
	for acc := range set {
		out = append(out, acc)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message) {
	if p.DLQ == nil {
		return
	}
	err := p.DLQ.WriteMessages(ctx, kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "origin-topic", Value: []byte(m.Topic)},
		},
		Time: time.Now(),
	})
	if err != nil {
		p.Log.Warn("dlq write failed", zap.Error(err))
		p.fail("dlq")
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
