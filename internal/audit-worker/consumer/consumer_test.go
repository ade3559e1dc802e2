package consumer

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

	"github.com/radieske/wager-settlement-platform/pkg/contracts/events"
)

type scriptedReader struct {
	msgs []kafka.Message
	errs []error
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

type captureWriter struct{ msgs []kafka.Message }

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type fakeAuditor struct {
	audited []string
	diff    map[string]int64
	fail    map[string]bool
}

func (f *fakeAuditor) Audit(_ context.Context, account string) (int64, int64, error) {
	f.audited = append(f.audited, account)
	if f.fail[account] {
		return 0, 0, errors.New("db down")
	}
	return 100 + f.diff[account], 100, nil
}

func newProcessor(r MessageReader, a Auditor, dlq MessageWriter) (*Processor, map[string]int, *[]string) {
	stages := map[string]int{}
	var mismatched []string
	return &Processor{
		Log:            zap.NewNop(),
		Reader:         r,
		Ledger:         a,
		DLQ:            dlq,
		ChallengeTopic: "challenge_settled",
		FundingTopic:   "funding_settled",
		ReadBackoff:    time.Millisecond,
		OnError:        func(stage string) { stages[stage]++ },
		OnMismatch:     func(acc string) { mismatched = append(mismatched, acc) },
	}, stages, &mismatched
}

func challengeMsg(t *testing.T, ev events.ChallengeSettled) kafka.Message {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Topic: "challenge_settled", Key: []byte("1"), Value: b}
}

func TestHandle_ChallengeSettledAuditsEachPayoutAccountOnce(t *testing.T) {
	a := &fakeAuditor{}
	p, stages, mismatched := newProcessor(&scriptedReader{}, a, nil)

	p.Handle(context.Background(), challengeMsg(t, events.ChallengeSettled{
		ChallengeID: 9,
		Outcome:     "draw",
		Payouts: []events.Payout{
			{Account: "house", Type: "fee", Amount: 4},
			{Account: "bob", Type: "draw", Amount: 98},
			{Account: "alice", Type: "draw", Amount: 98},
			{Account: "house", Type: "fee", Amount: 0},
		},
	}))

	assert.Equal(t, []string{"alice", "bob", "house"}, a.audited)
	assert.Empty(t, stages)
	assert.Empty(t, *mismatched)
}

func TestHandle_FundingSettledMismatch(t *testing.T) {
	a := &fakeAuditor{diff: map[string]int64{"alice": 5}}
	p, _, mismatched := newProcessor(&scriptedReader{}, a, nil)

	b, _ := json.Marshal(events.FundingSettled{TransactionID: 3, Account: "alice", AmountPaid: 100})
	p.Handle(context.Background(), kafka.Message{Topic: "funding_settled", Value: b})

	assert.Equal(t, []string{"alice"}, a.audited)
	assert.Equal(t, []string{"alice"}, *mismatched)
}

func TestHandle_MalformedGoesToDLQ(t *testing.T) {
	dlq := &captureWriter{}
	a := &fakeAuditor{}
	p, stages, _ := newProcessor(&scriptedReader{}, a, dlq)

	p.Handle(context.Background(), kafka.Message{Topic: "funding_settled", Key: []byte("k"), Value: []byte("{not json")})
	p.Handle(context.Background(), kafka.Message{Topic: "funding_settled", Value: []byte(`{"transaction_id":1}`)})
	p.Handle(context.Background(), kafka.Message{Topic: "other", Value: []byte(`{}`)})

	assert.Empty(t, a.audited)
	assert.Equal(t, 3, stages["decode"])
	require.Len(t, dlq.msgs, 3)
	assert.Equal(t, []byte("k"), dlq.msgs[0].Key)
	assert.Equal(t, "origin-topic", dlq.msgs[0].Headers[0].Key)
	assert.Equal(t, "funding_settled", string(dlq.msgs[0].Headers[0].Value))
}

func TestHandle_AuditErrorDoesNotStopOtherAccounts(t *testing.T) {
	a := &fakeAuditor{fail: map[string]bool{"alice": true}}
	p, stages, _ := newProcessor(&scriptedReader{}, a, nil)

	p.Handle(context.Background(), challengeMsg(t, events.ChallengeSettled{
		ChallengeID: 2,
		Payouts:     []events.Payout{{Account: "alice", Amount: 1}, {Account: "bob", Amount: 1}},
	}))

	assert.Equal(t, []string{"alice", "bob"}, a.audited)
	assert.Equal(t, 1, stages["audit"])
}

func TestRun_ReadErrorsAreRetriedUntilCancel(t *testing.T) {
	a := &fakeAuditor{}
	r := &scriptedReader{
		errs: []error{errors.New("broker gone")},
		msgs: []kafka.Message{challengeMsg(t, events.ChallengeSettled{
			ChallengeID: 1, Payouts: []events.Payout{{Account: "carol", Amount: 10}},
		})},
	}
	p, stages, _ := newProcessor(r, a, nil)
	consumed := 0
	p.OnConsumed = func(string) { consumed++ }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, stages["read"])
	assert.Equal(t, 1, consumed)
	assert.Equal(t, []string{"carol"}, a.audited)
}
