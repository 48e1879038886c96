// Package metrics definuje Prometheus metriky jednotlivých služeb.
// Každá služba má vlastní registry, vystavenou na GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "road_telemetry"

// NewRegistry vytvoří registry s Go runtime a procesními metrikami.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler vrací HTTP handler pro scrape.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Publisher jsou metriky telemetry-publisher.
type Publisher struct {
	Published *prometheus.CounterVec // podle topicu
	Failures  *prometheus.CounterVec // podle topicu
}

func NewPublisher(reg prometheus.Registerer) *Publisher {
	m := &Publisher{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "messages_published_total",
			Help:      "Zprávy úspěšně odeslané do MQTT",
		}, []string{"topic"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "publish_failures_total",
			Help:      "Neúspěšné pokusy o publikaci",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.Published, m.Failures)
	return m
}

// Ingest jsou metriky ukládání dávek.
type Ingest struct {
	Records  prometheus.Counter
	Batches  prometheus.Counter
	Failures prometheus.Counter
}

func NewIngest(reg prometheus.Registerer) *Ingest {
	m := &Ingest{
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records_inserted_total",
			Help:      "Uložené řádky",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "batches_committed_total",
			Help:      "Commitnuté dávky",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "batch_failures_total",
			Help:      "Dávky odmítnuté kvůli chybě databáze",
		}),
	}
	reg.MustRegister(m.Records, m.Batches, m.Failures)
	return m
}

// Broadcast jsou metriky websocket fan-outu.
type Broadcast struct {
	Subscribers  prometheus.Gauge
	Deliveries   prometheus.Counter
	Dropped      prometheus.Counter
	PushDuration prometheus.Histogram
}

func NewBroadcast(reg prometheus.Registerer) *Broadcast {
	m := &Broadcast{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Aktuálně připojení websocket klienti",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Úspěšně doručené dávky (jedna dávka jednomu klientovi)",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_subscribers_total",
			Help:      "Klienti odpojení kvůli chybě při zápisu",
		}),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "push_duration_seconds",
			Help:      "Doba rozeslání jedné dávky všem klientům",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Subscribers, m.Deliveries, m.Dropped, m.PushDuration)
	return m
}

// Edge jsou metriky telemetry-hub.
type Edge struct {
	Received        prometheus.Counter
	Invalid         prometheus.Counter
	Dropped         prometheus.Counter // zprávy přijaté po ukončení bridge
	Classified      *prometheus.CounterVec // podle road_state
	Forwarded       prometheus.Counter
	ForwardFailures prometheus.Counter
}

func NewEdge(reg prometheus.Registerer) *Edge {
	m := &Edge{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_received_total",
			Help:      "Zprávy přijaté z MQTT",
		}),
		Invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_invalid_total",
			Help:      "Zprávy, které nešlo dekódovat",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_dropped_total",
			Help:      "Zprávy zahozené, protože bridge už neběží",
		}),
		Classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "records_classified_total",
			Help:      "Záznamy podle stavu vozovky",
		}, []string{"road_state"}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "records_forwarded_total",
			Help:      "Záznamy odeslané do store",
		}),
		ForwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "forward_failures_total",
			Help:      "Dávky, které store nepřijal",
		}),
	}
	reg.MustRegister(m.Received, m.Invalid, m.Dropped, m.Classified, m.Forwarded, m.ForwardFailures)
	return m
}
