package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка позиций
// ============================================================
//
// Экспортируются на /metrics. Метки по символу не используются там,
// где кардинальность не ограничена (любой символ из сигнала).

// ============ Вход ============

// SignalsTotal сигналы по решению (accepted, rejected, skipped)
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "trading",
		Name:      "signals_total",
		Help:      "Signals by decision",
	},
	[]string{"decision"},
)

// EntriesTotal выставленные entry ордера
var EntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "trading",
		Name:      "entries_total",
		Help:      "Entry orders by result",
	},
	[]string{"result"}, // submitted, filled, canceled, failed
)

// FilterRejections отказы риск-фильтров
var FilterRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "filters",
		Name:      "rejections_total",
		Help:      "Signals rejected by risk filter",
	},
	[]string{"filter"},
)

// FilterFailOpen fail-open срабатывания фильтров
var FilterFailOpen = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "filters",
		Name:      "data_unavailable_total",
		Help:      "Filter checks passed without data (fail-open)",
	},
	[]string{"filter"},
)

// ============ Сопровождение ============

// ClosesTotal закрытия по причине
var ClosesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "trading",
		Name:      "closes_total",
		Help:      "Closed positions by reason",
	},
	[]string{"reason"},
)

// ForcedCloseFallbacks запасные пути принудительного закрытия
var ForcedCloseFallbacks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "trading",
		Name:      "forced_close_fallbacks_total",
		Help:      "Forced close fallback paths taken",
	},
	[]string{"path"}, // plain_market, split, failed
)

// ProtectionReplaced перевыставления после внешней отмены
var ProtectionReplaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "protection",
		Name:      "replaced_total",
		Help:      "Protective orders re-placed after external cancellation",
	},
	[]string{"kind"}, // tp, sl
)

// DuplicatesSwept снятые дубликаты условных ордеров
var DuplicatesSwept = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "protection",
		Name:      "duplicates_swept_total",
		Help:      "Duplicate conditional orders canceled",
	},
)

// TPAdjustments перевыставления TP по оценке
var TPAdjustments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "protection",
		Name:      "tp_adjustments_total",
		Help:      "Take-profit adjustments by result",
	},
	[]string{"result"}, // ok, restored, lost
)

// CriticalAlerts эскалации, требующие ручного вмешательства
var CriticalAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "trading",
		Name:      "critical_alerts_total",
		Help:      "Critical escalations by action",
	},
	[]string{"action"},
)

// MonitorCycleDuration длительность цикла монитора
var MonitorCycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "surgetrader",
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Position monitor cycle duration",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
)

// TrackedPositions текущее число сопровождаемых позиций
var TrackedPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "surgetrader",
		Subsystem: "monitor",
		Name:      "tracked_positions",
		Help:      "Currently tracked positions",
	},
)

// ============ Биржа ============

// ExchangeRequestLatency латентность REST запросов
var ExchangeRequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "surgetrader",
		Subsystem: "exchange",
		Name:      "request_latency_ms",
		Help:      "Exchange REST request latency in milliseconds",
		Buckets:   []float64{25, 50, 100, 200, 500, 1000, 2000, 5000, 30000},
	},
	[]string{"endpoint", "result"},
)

// BanActivations активации бана по rate limit
var BanActivations = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "exchange",
		Name:      "ban_activations_total",
		Help:      "Rate limit bans recorded",
	},
)

// BanUntil время окончания последнего бана (unix seconds)
var BanUntil = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "surgetrader",
		Subsystem: "exchange",
		Name:      "ban_until_seconds",
		Help:      "Unix time the last rate limit ban ends",
	},
)

// StreamReconnects переподключения user data stream
var StreamReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "exchange",
		Name:      "stream_reconnects_total",
		Help:      "User data stream disconnects",
	},
)

// ============ Производительность ============

// BufferOverflows переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "surgetrader",
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordSignal записывает решение по сигналу
func RecordSignal(decision string) {
	SignalsTotal.WithLabelValues(decision).Inc()
}

// RecordEntry записывает результат entry ордера
func RecordEntry(result string) {
	EntriesTotal.WithLabelValues(result).Inc()
}

// RecordClose записывает закрытие позиции
func RecordClose(reason string) {
	ClosesTotal.WithLabelValues(reason).Inc()
}

// RecordCritical записывает эскалацию
func RecordCritical(action string) {
	CriticalAlerts.WithLabelValues(action).Inc()
}

// UpdateTrackedPositions обновляет счётчик позиций
func UpdateTrackedPositions(count int) {
	TrackedPositions.Set(float64(count))
}

// MetricsObserver подключает метрики к клиенту биржи, фильтрам и потоку
type MetricsObserver struct{}

// ObserveRequest латентность запроса к бирже
func (MetricsObserver) ObserveRequest(endpoint string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExchangeRequestLatency.WithLabelValues(endpoint, result).Observe(float64(duration.Microseconds()) / 1000)
}

// BanActivated бан по rate limit
func (MetricsObserver) BanActivated(until time.Time) {
	BanActivations.Inc()
	BanUntil.Set(float64(until.Unix()))
}

// FilterRejected отказ фильтра
func (MetricsObserver) FilterRejected(filter string) {
	FilterRejections.WithLabelValues(filter).Inc()
}

// FilterUnavailable фильтр пропустил кандидата без данных
func (MetricsObserver) FilterUnavailable(filter string) {
	FilterFailOpen.WithLabelValues(filter).Inc()
}

// StreamDisconnected разрыв user data stream
func (MetricsObserver) StreamDisconnected() {
	StreamReconnects.Inc()
}
