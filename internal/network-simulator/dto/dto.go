package dto

type CreateInvoiceReq struct {
	Value int64  `json:"value" validate:"gt=0"`
	Memo  string `json:"memo,omitempty"`
}

type CreateInvoiceResp struct {
	PaymentRequest string `json:"payment_request"`
	PaymentAddr    string `json:"payment_addr"` // base64 padrão, como o nó devolve
}

// PayInvoiceReq simula o pagamento. AmtPaidSat zero = paga o valor cotado
type PayInvoiceReq struct {
	AmtPaidSat int64 `json:"amt_paid_sat" validate:"gte=0"`
}

// Resultados terminais que a simulação sorteia
const (
	StatusMate   = "mate"
	StatusResign = "resign"
	StatusDraw   = "draw"
)
