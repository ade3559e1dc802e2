package ledger

import (
	"errors"
	"time"
)

// EntryType identifica a origem de uma linha do ledger
type EntryType string

const (
	TypeDeposit  EntryType = "deposit"  // depósito vindo da rede de pagamento
	TypeStake    EntryType = "stake"    // débito do valor apostado (negativo)
	TypeFee      EntryType = "fee"      // taxa da casa
	TypeWinnings EntryType = "winnings" // prêmio do vencedor
	TypeDraw     EntryType = "draw"     // devolução em empate (menos taxa)
	TypeExpired  EntryType = "expired"  // devolução integral (expiração / empate forçado)
)

// EntryState: OPEN aguarda confirmação externa; SETTLED é fato consumado
type EntryState string

const (
	StateOpen    EntryState = "OPEN"
	StateSettled EntryState = "SETTLED"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDuplicateReference = errors.New("duplicate funding reference")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// Entry é uma linha imutável do ledger ("transaction").
// PaymentAddr vazio = sem referência de funding; ChallengeID 0 = sem desafio
type Entry struct {
	ID             int64
	Account        string
	Type           EntryType
	Detail         string
	Amount         int64
	State          EntryState
	PaymentAddr    string
	PaymentRequest string
	ChallengeID    int64
	MatchID        string
	CreatedAt      time.Time
}

// Posting é um crédito (ou débito, se negativo) já liquidado a ser gravado
// junto com a atualização do saldo
type Posting struct {
	Account     string
	Type        EntryType
	Detail      string
	Amount      int64
	ChallengeID int64
	MatchID     string
}

// Total soma os valores de um conjunto de postings
func Total(ps []Posting) int64 {
	var sum int64
	for _, p := range ps {
		sum += p.Amount
	}
	return sum
}
