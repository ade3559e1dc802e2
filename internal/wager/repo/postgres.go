package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/wager-settlement-platform/internal/ledger"
	lrepo "github.com/radieske/wager-settlement-platform/internal/ledger/repo"
	"github.com/radieske/wager-settlement-platform/internal/shared/db"
	"github.com/radieske/wager-settlement-platform/internal/wager"
)

// Postgres guarda os desafios. Toda mudança de status que movimenta dinheiro
// roda na mesma transação que grava as linhas do ledger
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

const challengeCols = `id, creator, opponent, stake, creator_color, time_limit, opponent_time_limit, increment, status, match_id, not_found_polls, created_at`

// Create debita o stake do criador e grava o desafio em WAITING_FOR_ACCEPTANCE
func (p *Postgres) Create(ctx context.Context, c wager.Challenge) (wager.Challenge, error) {
	c.Status = wager.StatusWaiting
	c.MatchID = ""
	if err := c.Validate(); err != nil {
		return wager.Challenge{}, err
	}

	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if err := lrepo.Debit(ctx, tx, c.Creator, c.Stake); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO challenges (creator, opponent, stake, creator_color, time_limit, opponent_time_limit, increment, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id, created_at`,
			c.Creator, c.Opponent, c.Stake, c.CreatorColor, c.TimeLimit, c.OpponentTimeLimit, c.Increment, c.Status,
		).Scan(&c.ID, &c.CreatedAt); err != nil {
			return fmt.Errorf("insert challenge: %w", err)
		}

		_, err := lrepo.InsertEntry(ctx, tx, ledger.Entry{
			Account:     c.Creator,
			Type:        ledger.TypeStake,
			Detail:      fmt.Sprintf("stake for challenge %d", c.ID),
			Amount:      -c.Stake,
			State:       ledger.StateSettled,
			ChallengeID: c.ID,
		})
		return err
	})
	if err != nil {
		return wager.Challenge{}, err
	}
	return c, nil
}

// Accept trava o desafio, debita o stake do oponente e vincula a partida externa
func (p *Postgres) Accept(ctx context.Context, id int64, opponent, matchID string) (wager.Challenge, error) {
	if matchID == "" {
		return wager.Challenge{}, fmt.Errorf("%w: match id is required", wager.ErrInvalidChallenge)
	}

	var c wager.Challenge
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		var err error
		c, err = scanChallenge(tx.QueryRowContext(ctx, `SELECT `+challengeCols+` FROM challenges WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return wager.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock challenge: %w", err)
		}
		if !wager.CanTransition(c.Status, wager.StatusAccepted) {
			return fmt.Errorf("%w: %s -> %s", wager.ErrInvalidTransition, c.Status, wager.StatusAccepted)
		}
		if c.Opponent != opponent {
			return fmt.Errorf("%w: challenge %d is addressed to another account", wager.ErrInvalidChallenge, id)
		}

		if err = lrepo.Debit(ctx, tx, c.Opponent, c.Stake); err != nil {
			return err
		}
		if _, err = lrepo.InsertEntry(ctx, tx, ledger.Entry{
			Account:     c.Opponent,
			Type:        ledger.TypeStake,
			Detail:      fmt.Sprintf("stake for challenge %d", c.ID),
			Amount:      -c.Stake,
			State:       ledger.StateSettled,
			ChallengeID: c.ID,
			MatchID:     matchID,
		}); err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx, `UPDATE challenges SET status=$1, match_id=$2, updated_at=NOW() WHERE id=$3`,
			wager.StatusAccepted, matchID, c.ID); err != nil {
			return fmt.Errorf("accept challenge: %w", err)
		}
		c.Status = wager.StatusAccepted
		c.MatchID = matchID
		return nil
	})
	if err != nil {
		return wager.Challenge{}, err
	}
	return c, nil
}

// Settle aplica o plano: status guardado por WHERE status=<from> + postings, tudo
// ou nada. Se outro processo já mudou o status, nenhuma linha é afetada e
// retorna ErrStaleTransition sem movimentar saldo
func (p *Postgres) Settle(ctx context.Context, s wager.Settlement) error {
	if !wager.CanTransition(s.From, s.To) {
		return fmt.Errorf("%w: %s -> %s", wager.ErrInvalidTransition, s.From, s.To)
	}

	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE challenges SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
			s.To, s.ChallengeID, s.From)
		if err != nil {
			return fmt.Errorf("transition challenge %d: %w", s.ChallengeID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return wager.ErrStaleTransition
		}

		return lrepo.ApplyPostings(ctx, tx, s.Postings)
	})
}

func (p *Postgres) Get(ctx context.Context, id int64) (wager.Challenge, error) {
	c, err := scanChallenge(p.db.QueryRowContext(ctx, `SELECT `+challengeCols+` FROM challenges WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return wager.Challenge{}, wager.ErrNotFound
	}
	return c, err
}

// ListByStatus retorna até limit desafios no status, mais recentes primeiro
func (p *Postgres) ListByStatus(ctx context.Context, status wager.Status, limit int) ([]wager.Challenge, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+challengeCols+`
		FROM challenges
		WHERE status=$1
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChallenges(rows)
}

// ListExpirable retorna desafios aguardando aceite criados antes de olderThan
func (p *Postgres) ListExpirable(ctx context.Context, olderThan time.Time, limit int) ([]wager.Challenge, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+challengeCols+`
		FROM challenges
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, wager.StatusWaiting, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChallenges(rows)
}

// IncrementStreak soma 1 ao contador de 404 consecutivos e devolve o novo valor.
// Só conta para desafios ainda ACCEPTED
func (p *Postgres) IncrementStreak(ctx context.Context, c wager.Challenge) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		UPDATE challenges SET not_found_polls = not_found_polls + 1, updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING not_found_polls`, c.ID, wager.StatusAccepted).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wager.ErrStaleTransition
	}
	return n, err
}

// ResetStreak zera o contador. Evita escrita quando já está zerado
func (p *Postgres) ResetStreak(ctx context.Context, c wager.Challenge) error {
	_, err := p.db.ExecContext(ctx, `UPDATE challenges SET not_found_polls=0 WHERE id=$1 AND not_found_polls<>0`, c.ID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (wager.Challenge, error) {
	var (
		c       wager.Challenge
		matchID sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Creator, &c.Opponent, &c.Stake, &c.CreatorColor, &c.TimeLimit,
		&c.OpponentTimeLimit, &c.Increment, &c.Status, &matchID, &c.NotFoundPolls, &c.CreatedAt); err != nil {
		return wager.Challenge{}, err
	}
	c.MatchID = matchID.String
	return c, nil
}

func scanChallenges(rows *sql.Rows) ([]wager.Challenge, error) {
	var out []wager.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
