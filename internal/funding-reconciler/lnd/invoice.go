package lnd

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Estados de invoice reportados pela rede de pagamento
const (
	StateOpen     = "OPEN"
	StateSettled  = "SETTLED"
	StateCanceled = "CANCELED"
	StateAccepted = "ACCEPTED"
)

// Invoice segue o formato REST do nó (campos int64 chegam como string,
// bytes chegam em base64)
type Invoice struct {
	Memo           string `json:"memo"`
	Value          string `json:"value,omitempty" validate:"omitempty,numeric"`
	Settled        bool   `json:"settled"`
	CreationDate   string `json:"creation_date,omitempty"`
	SettleDate     string `json:"settle_date,omitempty"`
	PaymentRequest string `json:"payment_request"`
	PaymentAddr    string `json:"payment_addr" validate:"required,base64"`
	Expiry         string `json:"expiry,omitempty"`
	AmtPaidSat     string `json:"amt_paid_sat" validate:"required_if=State SETTLED,omitempty,numeric"`
	State          string `json:"state" validate:"required,oneof=OPEN SETTLED CANCELED ACCEPTED"`
}

// InvoiceUpdate é um registro do stream de subscribe
type InvoiceUpdate struct {
	Result *Invoice     `json:"result" validate:"required_without=Error"`
	Error  *StreamError `json:"error,omitempty"`
}

type StreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream error %d: %s", e.Code, e.Message) }

// PaidAmount converte amt_paid_sat. Ausente é erro: liquidar com 0
// selaria o depósito sem creditar nada
func (i Invoice) PaidAmount() (int64, error) {
	if i.AmtPaidSat == "" {
		return 0, fmt.Errorf("amt_paid_sat missing")
	}
	n, err := strconv.ParseInt(i.AmtPaidSat, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amt_paid_sat %q: %w", i.AmtPaidSat, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("amt_paid_sat %q: negative", i.AmtPaidSat)
	}
	return n, nil
}

// URLSafeAddr converte o payment_addr (base64 padrão, como gravado no ledger)
// para o formato aceito na query string do lookup
func URLSafeAddr(addr string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(addr)
	if err != nil {
		return "", fmt.Errorf("payment_addr %q: %w", addr, err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
