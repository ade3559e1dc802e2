package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/funding"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
	"github.com/radieske/wager-settlement-platform/internal/ledger"
)

type sliceSource struct {
	chunks [][]byte
	err    error // devolvido depois do último chunk
}

func (s *sliceSource) Next(context.Context) ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceSource) Close() error { return nil }

// scriptedSubscriber entrega uma fonte por assinatura e cancela o ctx quando acabam
type scriptedSubscriber struct {
	mu      sync.Mutex
	sources []*sliceSource
	calls   int
	cancel  context.CancelFunc
}

func (s *scriptedSubscriber) Subscribe(context.Context) (lnd.ChunkSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.sources) == 0 {
		s.cancel()
		return nil, errors.New("no more sources")
	}
	src := s.sources[0]
	s.sources = s.sources[1:]
	return src, nil
}

type memLedger struct {
	mu       sync.Mutex
	open     map[string]string // addr -> account
	balances map[string]int64
	calls    int
}

func (m *memLedger) SettleFunding(_ context.Context, addr string, paid int64) (ledger.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	acc, ok := m.open[addr]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	delete(m.open, addr)
	m.balances[acc] += paid
	return ledger.Entry{ID: 1, Account: acc, Amount: paid, State: ledger.StateSettled}, true, nil
}

func record(addr, state, paid string) string {
	return `{"result":{"memo":"","payment_addr":"` + addr + `","amt_paid_sat":"` + paid + `","state":"` + state + `"}}` + "\n"
}

// endereços precisam ser base64 válido
const (
	addrA = "YWRkcmVzcy1hLTAwMDAwMDAwMDAwMDAwMDAwMDAwMDA="
	addrB = "YWRkcmVzcy1iLTAwMDAwMDAwMDAwMDAwMDAwMDAwMDA="
)

func newConsumer(l *memLedger, sub lnd.Subscriber, errs map[string]int) *Consumer {
	return &Consumer{
		Log:              zap.NewNop(),
		Subscriber:       sub,
		Decoder:          lnd.New("http://unused", "", time.Second),
		Applier:          &funding.Applier{Log: zap.NewNop(), Ledger: l},
		ResubscribeDelay: time.Millisecond,
		OnError:          func(stage string) { errs[stage]++ },
	}
}

func TestConsumer_AppliesAcrossChunksAndResubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := &memLedger{open: map[string]string{addrA: "alice", addrB: "bob"}, balances: map[string]int64{}}

	recA := record(addrA, "SETTLED", "1000")
	recB := record(addrB, "SETTLED", "500")
	sub := &scriptedSubscriber{
		cancel: cancel,
		sources: []*sliceSource{
			// registro A partido em 3 pedaços, com update OPEN colado no fim
			{chunks: [][]byte{[]byte(recA[:10]), []byte(recA[10:40]), []byte(recA[40:] + record(addrB, "OPEN", "0"))}, err: io.EOF},
			// conexão cai: A entregue de novo (duplicado) e B
			{chunks: [][]byte{[]byte(recA + recB[:5]), []byte(recB[5:])}, err: errors.New("connection reset")},
		},
	}
	errs := map[string]int{}

	err := newConsumer(l, sub, errs).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(1000), l.balances["alice"])
	assert.Equal(t, int64(500), l.balances["bob"])
	assert.Equal(t, 3, l.calls, "settled records reach the ledger, duplicates are absorbed there")
	assert.Equal(t, 3, sub.calls)
	assert.Equal(t, 1, errs["subscribe"])
}

func TestConsumer_HandleRecord_MalformedIsSkipped(t *testing.T) {
	l := &memLedger{open: map[string]string{addrA: "alice"}, balances: map[string]int64{}}
	errs := map[string]int{}
	c := newConsumer(l, nil, errs)
	ctx := context.Background()

	c.HandleRecord(ctx, []byte(`{"result":`))
	c.HandleRecord(ctx, []byte(`{"result":{"payment_addr":"`+addrA+`","state":"SETTLED","amt_paid_sat":"lots"}}`))
	c.HandleRecord(ctx, []byte(`{"error":{"code":14,"message":"unavailable"}}`))
	c.HandleRecord(ctx, []byte(`{"result":{"payment_addr":"`+addrA+`","state":"SETTLED"}}`))

	assert.Equal(t, 4, errs["decode"])
	assert.Zero(t, l.calls)

	c.HandleRecord(ctx, []byte(record(addrA, "SETTLED", "42")))
	assert.Equal(t, int64(42), l.balances["alice"])
}
