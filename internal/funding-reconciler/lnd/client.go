package lnd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed       = errors.New("malformed invoice payload")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// MacaroonHeader carrega a credencial do nó em toda requisição
const MacaroonHeader = "Grpc-Metadata-macaroon"

// ChunkSource entrega os pedaços de bytes na ordem em que o transporte os recebe.
// Next retorna io.EOF quando o servidor encerra o stream
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Subscriber abre uma nova assinatura do stream de invoices
type Subscriber interface {
	Subscribe(ctx context.Context) (ChunkSource, error)
}

// Client fala com a API REST do nó de pagamento
type Client struct {
	BaseURL  string
	Macaroon string
	HTTP     *http.Client // lookups, com timeout
	Stream   *http.Client // subscribe; sem timeout, a conexão é longa
	validate *validator.Validate
}

func New(base, macaroon string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(base, "/"),
		Macaroon: macaroon,
		HTTP:     &http.Client{Timeout: timeout},
		Stream:   &http.Client{},
		validate: validator.New(),
	}
}

// Subscribe abre GET /v1/invoices/subscribe e devolve o corpo chunked
func (c *Client) Subscribe(ctx context.Context) (ChunkSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/invoices/subscribe", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(MacaroonHeader, c.Macaroon)

	res, err := c.Stream.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		res.Body.Close()
		return nil, fmt.Errorf("invoice subscribe http %d", res.StatusCode)
	}
	return &bodyChunks{body: res.Body, buf: make([]byte, 32<<10)}, nil
}

// Lookup consulta uma invoice pelo payment_addr
func (c *Client) Lookup(ctx context.Context, paymentAddr string) (Invoice, error) {
	addr, err := URLSafeAddr(paymentAddr)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/v2/invoices/lookup?payment_addr="+url.QueryEscape(addr), nil)
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set(MacaroonHeader, c.Macaroon)
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return Invoice{}, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return Invoice{}, ErrInvoiceNotFound
	}
	if res.StatusCode >= 300 {
		return Invoice{}, fmt.Errorf("invoice lookup http %d", res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	if err := json.Unmarshal(body, &inv); err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// a resposta do lookup pode não trazer payment_addr; a chave é a referência consultada
	if err := c.validate.StructExcept(inv, "PaymentAddr"); err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	inv.PaymentAddr = paymentAddr
	return inv, nil
}

// DecodeUpdate valida um registro do stream e devolve a invoice
func (c *Client) DecodeUpdate(record []byte) (Invoice, error) {
	var u InvoiceUpdate
	if err := json.Unmarshal(record, &u); err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Error != nil {
		return Invoice{}, u.Error
	}
	if err := c.validate.Struct(u); err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return *u.Result, nil
}

// bodyChunks lê o corpo da resposta; cada Read é um chunk entregue pelo transporte
type bodyChunks struct {
	body io.ReadCloser
	buf  []byte
}

func (b *bodyChunks) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := b.body.Read(b.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, b.buf[:n])
		return out, nil
	}
	if err == nil {
		// Read sem bytes e sem erro: tenta de novo na próxima chamada
		return []byte{}, nil
	}
	return nil, err
}

func (b *bodyChunks) Close() error { return b.body.Close() }
