package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	skafka "github.com/radieske/wager-settlement-platform/internal/shared/kafka"
	"github.com/radieske/wager-settlement-platform/internal/wager"
	"github.com/radieske/wager-settlement-platform/pkg/contracts/events"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publica eventos de liquidação já commitados.
// Publicação é best-effort: o ledger é a fonte da verdade
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

// NewKafkaPublisher cria o writer para topic. Em local/dev garante que o tópico existe
func NewKafkaPublisher(brokers, topic, env string, log *zap.Logger) (*KafkaPublisher, error) {
	list := skafka.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, fmt.Errorf("kafka brokers not provided")
	}

	if env == "local" || env == "dev" {
		ensureTopic(list[0], topic, log)
	}

	return &KafkaPublisher{writer: skafka.NewWriter(brokers, topic), log: log}, nil
}

// ensureTopic cria o tópico via controller do cluster; falhas só geram warning
func ensureTopic(broker, topic string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		log.Warn("failed to connect to kafka", zap.Error(err))
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		log.Warn("failed to get kafka controller", zap.Error(err))
		return
	}

	cconn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		log.Warn("failed to dial controller", zap.Error(err))
		return
	}
	defer cconn.Close()

	err = cconn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		log.Warn("failed to create kafka topic", zap.String("topic", topic), zap.Error(err))
	} else if err == nil {
		log.Info("kafka topic created", zap.String("topic", topic))
	}
}

// ChallengeSettledEvent monta o evento a partir do plano aplicado
func ChallengeSettledEvent(s wager.Settlement) events.ChallengeSettled {
	ev := events.ChallengeSettled{
		ChallengeID: s.ChallengeID,
		MatchID:     s.MatchID,
		Status:      string(s.To),
		Outcome:     string(s.Outcome.Kind),
		Winner:      s.Winner,
		Stake:       s.Stake,
		Payouts:     make([]events.Payout, 0, len(s.Postings)),
		Ts:          time.Now().UTC(),
	}
	for _, p := range s.Postings {
		ev.Payouts = append(ev.Payouts, events.Payout{Account: p.Account, Type: string(p.Type), Amount: p.Amount})
	}
	return ev
}

// PublishChallengeSettled usa o id do desafio como chave (mesma partição por desafio)
func (p *KafkaPublisher) PublishChallengeSettled(ctx context.Context, ev events.ChallengeSettled) error {
	return p.publish(ctx, strconv.FormatInt(ev.ChallengeID, 10), ev)
}

// PublishFundingSettled usa a conta como chave
func (p *KafkaPublisher) PublishFundingSettled(ctx context.Context, ev events.FundingSettled) error {
	return p.publish(ctx, ev.Account, ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish event", zap.String("key", key), zap.Error(err))
		return err
	}

	p.log.Debug("published event", zap.String("key", key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
