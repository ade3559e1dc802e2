package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/stream"
	sdto "github.com/radieske/wager-settlement-platform/internal/network-simulator/dto"
	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/gameclient"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(zap.NewNop(), 42)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func createInvoice(t *testing.T, base string, value int64) sdto.CreateInvoiceResp {
	t.Helper()
	body, _ := json.Marshal(sdto.CreateInvoiceReq{Value: value, Memo: "deposit"})
	res, err := http.Post(base+"/v1/invoices", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out sdto.CreateInvoiceResp
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func pay(t *testing.T, base, addr string, amount int64) int {
	t.Helper()
	urlAddr, err := lnd.URLSafeAddr(addr)
	require.NoError(t, err)
	body, _ := json.Marshal(sdto.PayInvoiceReq{AmtPaidSat: amount})
	res, err := http.Post(base+"/v1/invoices/"+urlAddr+"/pay", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	return res.StatusCode
}

func TestExportGame_ProgressesToTerminal(t *testing.T) {
	_, ts := newTestServer(t)
	games := gameclient.New(ts.URL, time.Second)

	var last string
	for i := 0; i < 10; i++ {
		g, err := games.Export(context.Background(), "m-1")
		require.NoError(t, err)
		last = g.Status
		if !g.InProgress() {
			if g.Status != sdto.StatusDraw {
				assert.Contains(t, []string{"white", "black"}, g.Winner)
			}
			break
		}
	}
	assert.Contains(t, []string{sdto.StatusMate, sdto.StatusResign, sdto.StatusDraw}, last)

	// resultado terminal é estável
	again, err := games.Export(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, last, again.Status)
}

func TestExportGame_Missing(t *testing.T) {
	_, ts := newTestServer(t)
	_, err := gameclient.New(ts.URL, time.Second).Export(context.Background(), MissingPrefix+"abc")
	assert.ErrorIs(t, err, gameclient.ErrMatchNotFound)
}

func TestInvoices_LookupAndPay(t *testing.T) {
	_, ts := newTestServer(t)
	node := lnd.New(ts.URL, "mac", time.Second)
	ctx := context.Background()

	inv := createInvoice(t, ts.URL, 1500)

	got, err := node.Lookup(ctx, inv.PaymentAddr)
	require.NoError(t, err)
	assert.Equal(t, lnd.StateOpen, got.State)
	assert.Equal(t, inv.PaymentAddr, got.PaymentAddr)

	require.Equal(t, http.StatusOK, pay(t, ts.URL, inv.PaymentAddr, 0))

	got, err = node.Lookup(ctx, inv.PaymentAddr)
	require.NoError(t, err)
	assert.Equal(t, lnd.StateSettled, got.State)
	paid, err := got.PaidAmount()
	require.NoError(t, err)
	assert.Equal(t, int64(1500), paid)

	// pagar de novo não é permitido
	assert.Equal(t, http.StatusConflict, pay(t, ts.URL, inv.PaymentAddr, 0))

	_, err = node.Lookup(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	assert.ErrorIs(t, err, lnd.ErrInvoiceNotFound)
}

func TestInvoices_CreateValidation(t *testing.T) {
	_, ts := newTestServer(t)
	res, err := http.Post(ts.URL+"/v1/invoices", "application/json", bytes.NewReader([]byte(`{"value":0}`)))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func readRecord(t *testing.T, ctx context.Context, src lnd.ChunkSource) []byte {
	t.Helper()
	f := stream.NewFramer(stream.DefaultMaxRecord)
	for {
		chunk, err := src.Next(ctx)
		require.NoError(t, err)
		records, err := f.Push(chunk)
		require.NoError(t, err)
		if len(records) > 0 {
			return records[0]
		}
	}
}

func TestSubscribe_ChunkedDeliversPaidInvoice(t *testing.T) {
	s, ts := newTestServer(t)
	s.MaxSplit = 6
	node := lnd.New(ts.URL, "mac", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := node.Subscribe(ctx)
	require.NoError(t, err)
	defer src.Close()
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	inv := createInvoice(t, ts.URL, 700)
	require.Equal(t, http.StatusOK, pay(t, ts.URL, inv.PaymentAddr, 650))

	got, err := node.DecodeUpdate(readRecord(t, ctx, src))
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentAddr, got.PaymentAddr)
	assert.Equal(t, lnd.StateSettled, got.State)
	assert.Equal(t, "650", got.AmtPaidSat)
}

func TestSubscribe_WebSocket(t *testing.T) {
	s, ts := newTestServer(t)
	ws := lnd.NewWS(ts.URL, "mac")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := ws.Subscribe(ctx)
	require.NoError(t, err)
	defer src.Close()
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	inv := createInvoice(t, ts.URL, 300)
	urlAddr, _ := lnd.URLSafeAddr(inv.PaymentAddr)
	res, err := http.Post(ts.URL+"/v1/invoices/"+urlAddr+"/cancel", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()

	got, err := lnd.New(ts.URL, "mac", time.Second).DecodeUpdate(readRecord(t, ctx, src))
	require.NoError(t, err)
	assert.Equal(t, lnd.StateCanceled, got.State)
}

func TestSplit_PreservesBytes(t *testing.T) {
	s := NewServer(zap.NewNop(), 7)
	s.MaxSplit = 8
	record := []byte(`{"result":{"payment_addr":"x","state":"SETTLED"}}` + "\n")
	for i := 0; i < 50; i++ {
		parts := s.split(record)
		assert.LessOrEqual(t, len(parts), 8)
		assert.Equal(t, record, bytes.Join(parts, nil))
		for _, p := range parts {
			assert.NotEmpty(t, p)
		}
	}
}
