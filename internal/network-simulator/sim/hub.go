package sim

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_invoice_subscribers",
		Help: "Assinantes conectados ao stream de invoices",
	})
	streamRecordsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_invoice_records_sent_total",
		Help: "Total de registros de invoice enviados",
	})
	streamRecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_invoice_records_dropped_total",
		Help: "Registros descartados por assinante lento",
	})
)

// Collectors retorna as métricas do simulador para registro no main
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{streamSubscribers, streamRecordsSent, streamRecordsDropped}
}

// hub distribui registros de invoice para todos os assinantes (http chunked ou ws)
type hub struct {
	mu   sync.RWMutex
	subs map[string]chan []byte
	log  *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{subs: make(map[string]chan []byte), log: log}
}

func (h *hub) add() (string, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan []byte, 64)
	h.subs[id] = ch
	streamSubscribers.Inc()
	h.log.Info("invoice subscriber connected", zap.String("subscriber_id", id))
	return id, ch
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		streamSubscribers.Dec()
		h.log.Info("invoice subscriber disconnected", zap.String("subscriber_id", id))
	}
}

// broadcast nunca bloqueia: assinante com fila cheia perde o registro,
// como acontece com o stream real (o polling cobre)
func (h *hub) broadcast(record []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- record:
		default:
			streamRecordsDropped.Inc()
			h.log.Warn("subscriber queue full, record dropped", zap.String("subscriber_id", id))
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
