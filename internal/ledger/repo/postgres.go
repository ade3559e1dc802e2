package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/wager-settlement-platform/internal/ledger"
	"github.com/radieske/wager-settlement-platform/internal/shared/db"
)

// Postgres implementa o Ledger Store: saldos materializados + log de transações.
// Toda mutação de saldo acontece na mesma transação que grava a linha do log
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

const entryCols = `id, account, ttype, detail, amount, state, payment_addr, payment_request, challenge_id, match_id, created_at`

// CreateDeposit registra a intenção de depósito (OPEN) que o reconciliador
// vai liquidar quando a rede de pagamento confirmar
func (p *Postgres) CreateDeposit(ctx context.Context, account, paymentAddr, paymentRequest string, quoted int64) (ledger.Entry, error) {
	if quoted <= 0 {
		return ledger.Entry{}, ledger.ErrInvalidAmount
	}

	e := ledger.Entry{
		Account:        account,
		Type:           ledger.TypeDeposit,
		Detail:         "deposit invoice",
		Amount:         quoted,
		State:          ledger.StateOpen,
		PaymentAddr:    paymentAddr,
		PaymentRequest: paymentRequest,
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO ledger_transactions (account, ttype, detail, amount, state, payment_addr, payment_request)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		e.Account, e.Type, e.Detail, e.Amount, e.State, e.PaymentAddr, e.PaymentRequest,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ledger.Entry{}, ledger.ErrDuplicateReference
		}
		return ledger.Entry{}, err
	}
	return e, nil
}

// SettleFunding aplica um pagamento confirmado exatamente uma vez.
// A linha OPEN é lida com FOR UPDATE: tentativas concorrentes para a mesma
// referência esperam o lock e, depois do commit da primeira, não encontram
// mais linha OPEN. Sem linha OPEN (já liquidada ou desconhecida) é no-op:
// retorna applied=false e err=nil
func (p *Postgres) SettleFunding(ctx context.Context, paymentAddr string, paid int64) (entry ledger.Entry, applied bool, err error) {
	if paid < 0 {
		return ledger.Entry{}, false, ledger.ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	defer tx.Rollback()

	entry, err = scanEntry(tx.QueryRowContext(ctx, `
		SELECT `+entryCols+`
		FROM ledger_transactions
		WHERE payment_addr=$1 AND state='OPEN'
		FOR UPDATE`, paymentAddr))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("lock open entry: %w", err)
	}

	// o valor pago é o que vale, não o cotado
	if _, err = tx.ExecContext(ctx, `UPDATE ledger_transactions SET state='SETTLED', amount=$1, settled_at=NOW() WHERE id=$2`,
		paid, entry.ID); err != nil {
		return ledger.Entry{}, false, fmt.Errorf("settle entry: %w", err)
	}

	if err = Credit(ctx, tx, entry.Account, paid); err != nil {
		return ledger.Entry{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return ledger.Entry{}, false, err
	}

	entry.State = ledger.StateSettled
	entry.Amount = paid
	return entry, true, nil
}

// ClaimStaleOpen pega um lote de depósitos OPEN criados antes de olderThan
// (fallback do stream) e marca last_polled_at. Os nunca consultados vêm
// primeiro e depois os consultados há mais tempo, então depósitos que ficam
// OPEN para sempre (invoice cancelada) não prendem os mais novos
func (p *Postgres) ClaimStaleOpen(ctx context.Context, olderThan time.Time, limit int) ([]ledger.Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE ledger_transactions SET last_polled_at=NOW()
		WHERE id IN (
			SELECT id FROM ledger_transactions
			WHERE state='OPEN' AND payment_addr IS NOT NULL AND created_at < $1
			ORDER BY last_polled_at ASC NULLS FIRST, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED)
		RETURNING `+entryCols, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Balance retorna o saldo materializado (0 se a conta nunca recebeu crédito)
func (p *Postgres) Balance(ctx context.Context, account string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE account=$1`, account).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

// Transactions retorna as últimas linhas do ledger de uma conta
func (p *Postgres) Transactions(ctx context.Context, account string, limit int) ([]ledger.Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryCols+`
		FROM ledger_transactions
		WHERE account=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Audit compara o saldo materializado com a soma das linhas SETTLED.
// Os dois valores devem ser sempre iguais
func (p *Postgres) Audit(ctx context.Context, account string) (balance, settledSum int64, err error) {
	err = p.db.QueryRowContext(ctx, `
		SELECT
		  COALESCE((SELECT balance FROM balances WHERE account=$1), 0),
		  COALESCE((SELECT SUM(amount) FROM ledger_transactions WHERE account=$1 AND state='SETTLED'), 0)`,
		account).Scan(&balance, &settledSum)
	return balance, settledSum, err
}

// ===== helpers usados dentro de transações abertas por outros repositórios =====

// InsertEntry grava uma linha no ledger dentro da transação
func InsertEntry(ctx context.Context, tx *sql.Tx, e ledger.Entry) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_transactions (account, ttype, detail, amount, state, challenge_id, match_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		e.Account, e.Type, e.Detail, e.Amount, e.State, nullInt64(e.ChallengeID), nullString(e.MatchID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s entry for %s: %w", e.Type, e.Account, err)
	}
	return id, nil
}

// Credit soma amount ao saldo, criando a linha de saldo se necessário
func Credit(ctx context.Context, tx *sql.Tx, account string, amount int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (account, balance, updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT (account) DO UPDATE SET balance = balances.balance + EXCLUDED.balance, updated_at = NOW()`,
		account, amount); err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Debit trava o saldo da conta e debita amount, falhando com
// ErrInsufficientFunds se não houver saldo
func Debit(ctx context.Context, tx *sql.Tx, account string, amount int64) error {
	var bal int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE account=$1 FOR UPDATE`, account).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("lock balance %s: %w", account, err)
	}
	if bal < amount {
		return ledger.ErrInsufficientFunds
	}

	if _, err = tx.ExecContext(ctx, `UPDATE balances SET balance = balance - $1, updated_at = NOW() WHERE account=$2`,
		amount, account); err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	return nil
}

// ApplyPostings grava cada posting como linha SETTLED e credita o saldo.
// Postings com valor zero são ignorados
func ApplyPostings(ctx context.Context, tx *sql.Tx, postings []ledger.Posting) error {
	for _, ps := range postings {
		if ps.Amount == 0 {
			continue
		}
		if _, err := InsertEntry(ctx, tx, ledger.Entry{
			Account:     ps.Account,
			Type:        ps.Type,
			Detail:      ps.Detail,
			Amount:      ps.Amount,
			State:       ledger.StateSettled,
			ChallengeID: ps.ChallengeID,
			MatchID:     ps.MatchID,
		}); err != nil {
			return err
		}
		if err := Credit(ctx, tx, ps.Account, ps.Amount); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e           ledger.Entry
		addr, req   sql.NullString
		challengeID sql.NullInt64
		matchID     sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Account, &e.Type, &e.Detail, &e.Amount, &e.State,
		&addr, &req, &challengeID, &matchID, &e.CreatedAt); err != nil {
		return ledger.Entry{}, err
	}
	e.PaymentAddr = addr.String
	e.PaymentRequest = req.String
	e.ChallengeID = challengeID.Int64
	e.MatchID = matchID.String
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullInt64(n int64) sql.NullInt64 { return sql.NullInt64{Int64: n, Valid: n != 0} }
