package wager

import (
	"errors"
	"fmt"
	"time"
)

// Status do ciclo de vida de um desafio. EXPIRED e COMPLETED são terminais
type Status string

const (
	StatusWaiting   Status = "WAITING_FOR_ACCEPTANCE"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
)

// Side é a cor de um jogador na partida externa
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleTransition   = errors.New("challenge status changed concurrently")
	ErrInvalidChallenge  = errors.New("invalid challenge")
	ErrNotFound          = errors.New("challenge not found")
)

// Challenge é a aposta entre criador e oponente, vinculada a uma partida externa
type Challenge struct {
	ID                int64
	Creator           string
	Opponent          string
	Stake             int64
	CreatorColor      Side
	TimeLimit         int // segundos; opacos para a liquidação
	OpponentTimeLimit int
	Increment         int
	Status            Status
	MatchID           string // vazio até ser aceito
	NotFoundPolls     int
	CreatedAt         time.Time
}

var transitions = map[Status][]Status{
	StatusWaiting:  {StatusAccepted, StatusExpired},
	StatusAccepted: {StatusCompleted},
}

// CanTransition diz se from -> to existe no grafo de estados
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal indica estados que nunca mudam
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

func (s Side) Valid() bool { return s == White || s == Black }

// Validate confere os invariantes do desafio para o status atual
func (c Challenge) Validate() error {
	if c.Stake <= 0 {
		return fmt.Errorf("%w: stake must be positive, got %d", ErrInvalidChallenge, c.Stake)
	}
	if c.Creator == "" || c.Opponent == "" {
		return fmt.Errorf("%w: missing party", ErrInvalidChallenge)
	}
	if c.Creator == c.Opponent {
		return fmt.Errorf("%w: creator and opponent are the same account", ErrInvalidChallenge)
	}
	if !c.CreatorColor.Valid() {
		return fmt.Errorf("%w: creator color %q", ErrInvalidChallenge, c.CreatorColor)
	}
	bound := c.Status == StatusAccepted || c.Status == StatusCompleted
	if bound != (c.MatchID != "") {
		return fmt.Errorf("%w: match id %q with status %s", ErrInvalidChallenge, c.MatchID, c.Status)
	}
	return nil
}
