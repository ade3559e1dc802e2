package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/ledger"
	"github.com/radieske/wager-settlement-platform/internal/wager"
	"github.com/radieske/wager-settlement-platform/pkg/contracts/events"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestChallengeSettledEvent(t *testing.T) {
	s := wager.Settlement{
		ChallengeID: 9,
		MatchID:     "m-1",
		Stake:       150,
		To:          wager.StatusCompleted,
		Outcome:     wager.Decisive(wager.White),
		Winner:      "alice",
		Postings: []ledger.Posting{
			{Account: "house", Type: ledger.TypeFee, Amount: 6},
			{Account: "alice", Type: ledger.TypeWinnings, Amount: 294},
		},
	}
	ev := ChallengeSettledEvent(s)
	assert.Equal(t, "COMPLETED", ev.Status)
	assert.Equal(t, "decisive", ev.Outcome)
	assert.Equal(t, []events.Payout{{Account: "house", Type: "fee", Amount: 6}, {Account: "alice", Type: "winnings", Amount: 294}}, ev.Payouts)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, log: zap.NewNop()}
	ctx := context.Background()

	require.NoError(t, p.PublishChallengeSettled(ctx, events.ChallengeSettled{ChallengeID: 9, Status: "EXPIRED"}))
	require.NoError(t, p.PublishFundingSettled(ctx, events.FundingSettled{Account: "alice", AmountPaid: 1100, Ts: time.Now()}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "9", string(w.msgs[0].Key))
	assert.Equal(t, "alice", string(w.msgs[1].Key))

	var got events.FundingSettled
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &got))
	assert.Equal(t, int64(1100), got.AmountPaid)

	w.err = errors.New("broker down")
	assert.Error(t, p.PublishFundingSettled(ctx, events.FundingSettled{Account: "bob"}))
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(" , ", "t", "prod", zap.NewNop())
	assert.Error(t, err)
}
