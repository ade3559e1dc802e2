package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/ledger"
	"github.com/radieske/wager-settlement-platform/internal/wager"
	"github.com/radieske/wager-settlement-platform/internal/wallet-service/dto"
)

// Ledger define as operações de saldo/extrato usadas pelos handlers
type Ledger interface {
	Balance(ctx context.Context, account string) (int64, error)
	Transactions(ctx context.Context, account string, limit int) ([]ledger.Entry, error)
	CreateDeposit(ctx context.Context, account, paymentAddr, paymentRequest string, quoted int64) (ledger.Entry, error)
	Audit(ctx context.Context, account string) (balance, settledSum int64, err error)
}

type Challenges interface {
	Create(ctx context.Context, c wager.Challenge) (wager.Challenge, error)
	Accept(ctx context.Context, id int64, opponent, matchID string) (wager.Challenge, error)
	Get(ctx context.Context, id int64) (wager.Challenge, error)
}

const (
	defaultTxLimit = 50
	maxTxLimit     = 500
)

// Server expõe saldos, extrato, depósitos e o ciclo de criação/aceite de desafios
type Server struct {
	log        *zap.Logger
	ledger     Ledger
	challenges Challenges
	validate   *validator.Validate
}

func NewServer(log *zap.Logger, l Ledger, c Challenges) *Server {
	return &Server{log: log, ledger: l, challenges: c, validate: validator.New()}
}

// Router retorna o router chi com as rotas da API
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/wallet/{account}", s.getBalance)
	r.Get("/wallet/{account}/transactions", s.listTransactions)
	r.Get("/wallet/{account}/audit", s.audit)
	r.Post("/deposits", s.createDeposit)

	r.Post("/challenges", s.createChallenge)
	r.Get("/challenges/{id}", s.getChallenge)
	r.Post("/challenges/{id}/accept", s.acceptChallenge)
	return r
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	bal, err := s.ledger.Balance(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{Account: account, Balance: bal})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTxLimit)
	}

	entries, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "account"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]dto.TransactionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.TransactionResponse{
			ID:          e.ID,
			Type:        string(e.Type),
			Detail:      e.Detail,
			Amount:      e.Amount,
			State:       string(e.State),
			PaymentAddr: e.PaymentAddr,
			ChallengeID: e.ChallengeID,
			MatchID:     e.MatchID,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// audit compara saldo materializado com a soma das linhas SETTLED
func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	bal, sum, err := s.ledger.Audit(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bal != sum {
		s.log.Error("balance drift detected", zap.String("account", account), zap.Int64("balance", bal), zap.Int64("settled_sum", sum))
	}
	writeJSON(w, http.StatusOK, dto.AuditResponse{Account: account, Balance: bal, SettledSum: sum, Consistent: bal == sum})
}

func (s *Server) createDeposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.ledger.CreateDeposit(r.Context(), req.Account, req.PaymentAddr, req.PaymentRequest, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.TransactionResponse{
		ID:          e.ID,
		Type:        string(e.Type),
		Detail:      e.Detail,
		Amount:      e.Amount,
		State:       string(e.State),
		PaymentAddr: e.PaymentAddr,
		CreatedAt:   e.CreatedAt,
	})
}

func (s *Server) createChallenge(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateChallengeRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.challenges.Create(r.Context(), wager.Challenge{
		Creator:           req.Creator,
		Opponent:          req.Opponent,
		Stake:             req.Stake,
		CreatorColor:      wager.Side(req.Color),
		TimeLimit:         req.TimeLimit,
		OpponentTimeLimit: req.OpponentTimeLimit,
		Increment:         req.Increment,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("challenge created", zap.Int64("challenge_id", c.ID), zap.String("creator", c.Creator), zap.Int64("stake", c.Stake))
	writeJSON(w, http.StatusCreated, challengeResponse(c))
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	c, err := s.challenges.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse(c))
}

func (s *Server) acceptChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	var req dto.AcceptChallengeRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.challenges.Accept(r.Context(), id, req.Opponent, req.MatchID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("challenge accepted", zap.Int64("challenge_id", c.ID), zap.String("match_id", c.MatchID))
	writeJSON(w, http.StatusOK, challengeResponse(c))
}

// decode lê o JSON e valida; em caso de erro já respondeu 400
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// fail traduz erros de domínio em status HTTP
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, wager.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrDuplicateReference),
		errors.Is(err, wager.ErrInvalidTransition),
		errors.Is(err, wager.ErrStaleTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, wager.ErrInvalidChallenge), errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func challengeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return 0, false
	}
	return id, true
}

func challengeResponse(c wager.Challenge) dto.ChallengeResponse {
	return dto.ChallengeResponse{
		ID:                c.ID,
		Creator:           c.Creator,
		Opponent:          c.Opponent,
		Stake:             c.Stake,
		Color:             string(c.CreatorColor),
		TimeLimit:         c.TimeLimit,
		OpponentTimeLimit: c.OpponentTimeLimit,
		Increment:         c.Increment,
		Status:            string(c.Status),
		MatchID:           c.MatchID,
		CreatedAt:         c.CreatedAt,
	}
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}
