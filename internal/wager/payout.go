package wager

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-settlement-platform/internal/ledger"
)

// OutcomeKind classifica como um desafio foi encerrado
type OutcomeKind string

const (
	OutcomeDecisive   OutcomeKind = "decisive"
	OutcomeDraw       OutcomeKind = "draw"
	OutcomeForcedDraw OutcomeKind = "forced_draw" // partida nunca encontrada
	OutcomeExpired    OutcomeKind = "expired"     // nunca aceito
)

type Outcome struct {
	Kind   OutcomeKind
	Winner Side // só em OutcomeDecisive
}

func Decisive(winner Side) Outcome { return Outcome{Kind: OutcomeDecisive, Winner: winner} }
func Draw() Outcome                { return Outcome{Kind: OutcomeDraw} }
func ForcedDraw() Outcome          { return Outcome{Kind: OutcomeForcedDraw} }
func Expired() Outcome             { return Outcome{Kind: OutcomeExpired} }

// DefaultFeeRate é a taxa cobrada de cada jogador (2%)
var DefaultFeeRate = decimal.RequireFromString("0.02")

// FeePerPerson = floor(stake * rate)
func FeePerPerson(stake int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(stake).Mul(rate).Floor().IntPart()
}

// WinnerAccount resolve qual conta ganhou comparando a cor do criador com o lado vencedor
func WinnerAccount(c Challenge, winner Side) string {
	if c.CreatorColor == winner {
		return c.Creator
	}
	return c.Opponent
}

// Settlement é o plano atômico de liquidação: transição de status + créditos
type Settlement struct {
	ChallengeID int64
	MatchID     string
	Stake       int64
	From        Status
	To          Status
	Outcome     Outcome
	Winner      string // conta vencedora em OutcomeDecisive
	Postings    []ledger.Posting
}

// Plan calcula os créditos de um desafio para o resultado informado.
//
// Vitória: vencedor recebe 2*S - 2*fee, casa recebe 2*fee.
// Empate: cada um recebe S - fee, casa recebe 2*fee.
// Empate forçado: cada um recebe S, sem taxa.
// Expirado: criador recebe S (só ele tinha depositado).
//
// A soma dos créditos é sempre igual ao que entrou em stake
func Plan(c Challenge, o Outcome, rate decimal.Decimal, house string) (Settlement, error) {
	if err := c.Validate(); err != nil {
		return Settlement{}, err
	}

	s := Settlement{
		ChallengeID: c.ID,
		MatchID:     c.MatchID,
		Stake:       c.Stake,
		From:        c.Status,
		Outcome:     o,
	}

	switch o.Kind {
	case OutcomeExpired:
		s.To = StatusExpired
	case OutcomeDecisive, OutcomeDraw, OutcomeForcedDraw:
		s.To = StatusCompleted
	default:
		return Settlement{}, fmt.Errorf("unknown outcome %q", o.Kind)
	}
	if !CanTransition(c.Status, s.To) {
		return Settlement{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, s.To)
	}

	fee := FeePerPerson(c.Stake, rate)
	totalFee := fee * 2
	post := func(account string, t ledger.EntryType, detail string, amount int64) {
		s.Postings = append(s.Postings, ledger.Posting{
			Account:     account,
			Type:        t,
			Detail:      detail,
			Amount:      amount,
			ChallengeID: c.ID,
			MatchID:     c.MatchID,
		})
	}

	switch o.Kind {
	case OutcomeDecisive:
		if !o.Winner.Valid() {
			return Settlement{}, fmt.Errorf("%w: winner side %q", ErrInvalidChallenge, o.Winner)
		}
		s.Winner = WinnerAccount(c, o.Winner)
		if totalFee > 0 {
			post(house, ledger.TypeFee, fmt.Sprintf("fee from challenge %d", c.ID), totalFee)
		}
		post(s.Winner, ledger.TypeWinnings, fmt.Sprintf("match %s won as %s", c.MatchID, o.Winner), c.Stake*2-totalFee)

	case OutcomeDraw:
		if totalFee > 0 {
			post(house, ledger.TypeFee, fmt.Sprintf("fee from challenge %d", c.ID), totalFee)
		}
		detail := fmt.Sprintf("match %s drawn. stake minus fee", c.MatchID)
		post(c.Creator, ledger.TypeDraw, detail, c.Stake-fee)
		post(c.Opponent, ledger.TypeDraw, detail, c.Stake-fee)

	case OutcomeForcedDraw:
		detail := fmt.Sprintf("match %s never found. stake returned", c.MatchID)
		post(c.Creator, ledger.TypeExpired, detail, c.Stake)
		post(c.Opponent, ledger.TypeExpired, detail, c.Stake)

	case OutcomeExpired:
		post(c.Creator, ledger.TypeExpired, "challenge not accepted in time. stake returned", c.Stake)
	}

	return s, nil
}

// HouseTake retorna quanto do plano vai para a conta da casa
func (s Settlement) HouseTake(house string) int64 {
	var sum int64
	for _, p := range s.Postings {
		if p.Account == house && p.Type == ledger.TypeFee {
			sum += p.Amount
		}
	}
	return sum
}
