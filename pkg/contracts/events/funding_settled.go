package events

import "time"

// Evento publicado quando um depósito OPEN é liquidado (stream ou polling)
type FundingSettled struct {
	TransactionID int64     `json:"transaction_id"`
	Account       string    `json:"account"`
	PaymentAddr   string    `json:"payment_addr"`
	AmountPaid    int64     `json:"amount_paid"`
	Source        string    `json:"source"` // "stream" | "poll"
	Ts            time.Time `json:"ts"`
}
