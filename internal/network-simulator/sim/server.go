package sim

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
	sdto "github.com/radieske/wager-settlement-platform/internal/network-simulator/dto"
	gdto "github.com/radieske/wager-settlement-platform/internal/outcome-resolver/gameclient/dto"
)

// MissingPrefix marca partidas que o simulador nunca encontra (exercita o empate forçado)
const MissingPrefix = "missing-"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// game guarda a progressão sorteada de uma partida simulada
type game struct {
	polls    int
	startAt  int
	finishAt int
	status   string
	winner   string
}

// Server simula a API de partidas e o nó de pagamento num único processo
type Server struct {
	log      *zap.Logger
	hub      *hub
	validate *validator.Validate

	mu       sync.Mutex
	rnd      *mrand.Rand
	games    map[string]*game
	invoices map[string]*lnd.Invoice // chave: payment_addr em base64 padrão

	// MaxSplit limita quantos pedaços cada registro do stream chunked recebe
	MaxSplit int
	Now      func() time.Time
}

func NewServer(log *zap.Logger, seed int64) *Server {
	return &Server{
		log:      log,
		hub:      newHub(log),
		validate: validator.New(),
		rnd:      mrand.New(mrand.NewSource(seed)),
		games:    make(map[string]*game),
		invoices: make(map[string]*lnd.Invoice),
		MaxSplit: 4,
		Now:      time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/game/export/{id}", s.exportGame)
	r.Post("/v1/invoices", s.createInvoice)
	r.Get("/v1/invoices/subscribe", s.subscribe)
	r.Post("/v1/invoices/{addr}/pay", s.payInvoice)
	r.Post("/v1/invoices/{addr}/cancel", s.cancelInvoice)
	r.Get("/v2/invoices/lookup", s.lookupInvoice)
	return r
}

// ===== partidas =====

func (s *Server) exportGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.HasPrefix(id, MissingPrefix) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	g, ok := s.games[id]
	if !ok {
		// partidas desconhecidas nascem no primeiro export
		start := 1 + s.rnd.Intn(2)
		g = &game{startAt: start, finishAt: start + 1 + s.rnd.Intn(3)}
		s.games[id] = g
	}
	g.polls++
	out := gdto.GameExport{ID: id, Rated: true, Variant: "standard", Speed: "blitz", Perf: "blitz"}
	switch {
	case g.status != "":
		out.Status, out.Winner = g.status, g.winner
	case g.polls < g.startAt:
		out.Status = gdto.StatusCreated
	case g.polls < g.finishAt:
		out.Status = gdto.StatusStarted
	default:
		g.status, g.winner = s.finish()
		out.Status, out.Winner = g.status, g.winner
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

// finish sorteia o resultado. Chamado com s.mu travado
func (s *Server) finish() (status, winner string) {
	switch n := s.rnd.Intn(10); {
	case n < 2:
		return sdto.StatusDraw, ""
	case n < 6:
		return sdto.StatusMate, "white"
	case n < 9:
		return sdto.StatusMate, "black"
	default:
		return sdto.StatusResign, "white"
	}
}

// ===== invoices =====

func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req sdto.CreateInvoiceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		http.Error(w, "entropy", http.StatusInternalServerError)
		return
	}
	addr := base64.StdEncoding.EncodeToString(raw)
	inv := &lnd.Invoice{
		Memo:           req.Memo,
		Value:          strconv.FormatInt(req.Value, 10),
		CreationDate:   strconv.FormatInt(s.Now().Unix(), 10),
		PaymentRequest: fmt.Sprintf("lnbcrt%dn1%x", req.Value, raw[:8]),
		PaymentAddr:    addr,
		Expiry:         "86400",
		AmtPaidSat:     "0",
		State:          lnd.StateOpen,
	}

	s.mu.Lock()
	s.invoices[addr] = inv
	s.mu.Unlock()

	s.log.Info("invoice created", zap.String("payment_addr", addr), zap.Int64("value", req.Value))
	writeJSON(w, http.StatusOK, sdto.CreateInvoiceResp{PaymentRequest: inv.PaymentRequest, PaymentAddr: addr})
}

func (s *Server) payInvoice(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req sdto.PayInvoiceReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.transition(w, chi.URLParam(r, "addr"), func(inv *lnd.Invoice) {
		paid := req.AmtPaidSat
		if paid == 0 {
			paid, _ = strconv.ParseInt(inv.Value, 10, 64)
		}
		inv.State = lnd.StateSettled
		inv.Settled = true
		inv.AmtPaidSat = strconv.FormatInt(paid, 10)
		inv.SettleDate = strconv.FormatInt(s.Now().Unix(), 10)
	})
}

func (s *Server) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "addr"), func(inv *lnd.Invoice) {
		inv.State = lnd.StateCanceled
	})
}

// transition aplica apply numa invoice OPEN e publica o novo estado no stream
func (s *Server) transition(w http.ResponseWriter, urlAddr string, apply func(*lnd.Invoice)) {
	addr, ok := stdAddr(urlAddr)
	if !ok {
		http.Error(w, "invalid payment_addr", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	inv, found := s.invoices[addr]
	if !found {
		s.mu.Unlock()
		http.Error(w, "invoice not found", http.StatusNotFound)
		return
	}
	if inv.State != lnd.StateOpen {
		s.mu.Unlock()
		http.Error(w, "invoice not open", http.StatusConflict)
		return
	}
	apply(inv)
	snapshot := *inv
	s.mu.Unlock()

	record, _ := json.Marshal(lnd.InvoiceUpdate{Result: &snapshot})
	s.hub.broadcast(append(record, '\n'))
	s.log.Info("invoice updated", zap.String("payment_addr", addr), zap.String("state", snapshot.State))

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) lookupInvoice(w http.ResponseWriter, r *http.Request) {
	addr, ok := stdAddr(r.URL.Query().Get("payment_addr"))
	if !ok {
		http.Error(w, "invalid payment_addr", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	inv, found := s.invoices[addr]
	var snapshot lnd.Invoice
	if found {
		snapshot = *inv
	}
	s.mu.Unlock()

	if !found {
		http.Error(w, "unable to locate invoice", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ===== stream =====

// subscribe serve o mesmo stream em dois transportes: websocket quando o
// cliente pede upgrade, corpo chunked caso contrário
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.subscribeWS(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch := s.hub.add()
	defer s.hub.remove(id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case record := <-ch:
			// fronteiras de chunk não coincidem com fronteiras de registro
			for _, part := range s.split(record) {
				if _, err := w.Write(part); err != nil {
					return
				}
				flusher.Flush()
			}
			streamRecordsSent.Inc()
		}
	}
}

func (s *Server) subscribeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	id, ch := s.hub.add()
	done := make(chan struct{})

	// lê e descarta mensagens do cliente (o "{}" inicial) até desconectar
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.remove(id)
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case record := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, record); err != nil {
				s.log.Warn("ws write failed", zap.String("subscriber_id", id), zap.Error(err))
				return
			}
			streamRecordsSent.Inc()
		}
	}
}

// split corta record em até MaxSplit pedaços em offsets aleatórios
func (s *Server) split(record []byte) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 1
	if s.MaxSplit > 1 {
		n = 1 + s.rnd.Intn(s.MaxSplit)
	}
	var parts [][]byte
	for i := 1; i < n && len(record) > 1; i++ {
		cut := 1 + s.rnd.Intn(len(record)-1)
		parts = append(parts, record[:cut])
		record = record[cut:]
	}
	return append(parts, record)
}

// Subscribers retorna quantos assinantes estão conectados ao stream
func (s *Server) Subscribers() int { return s.hub.count() }

// stdAddr aceita payment_addr em base64 url-safe (path/query) ou padrão e
// devolve a forma padrão usada como chave
func stdAddr(addr string) (string, bool) {
	if addr == "" {
		return "", false
	}
	if raw, err := base64.URLEncoding.DecodeString(addr); err == nil {
		return base64.StdEncoding.EncodeToString(raw), true
	}
	if raw, err := base64.StdEncoding.DecodeString(addr); err == nil {
		return base64.StdEncoding.EncodeToString(raw), true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
