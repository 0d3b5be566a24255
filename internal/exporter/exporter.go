package exporter

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mzyy94/stylusctl/internal/escp"
)

const namespace = "stylus"

// Source is the printer the exporter scrapes.
type Source interface {
	Status(ctx context.Context) (*escp.StatusRecord, error)
	NozzleCheck(ctx context.Context) (escp.NozzleCheckResult, error)
}

var (
	upMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "up"),
		"Was the last status query of the printer successful.", nil, nil)
	readyMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "ready"),
		"Printer accepts maintenance commands (Waiting or Idle).", nil, nil)
	statusMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "status"),
		"Current printer status; the code is the value, the text a label.", []string{"status"}, nil)
	inkMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "ink", "level_percent"),
		"Remaining ink per cartridge.", []string{"colour", "id"}, nil)
	tankMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "maintenance_tank", "level"),
		"Maintenance tank level as reported by the printer.", []string{"tank"}, nil)
	nozzleMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "nozzle", "blocked"),
		"Nozzle reported blocked by the last nozzle check.", []string{"nozzle", "colour", "group"}, nil)
)

// Exporter collects printer status on every scrape.
type Exporter struct {
	src     Source
	timeout time.Duration
	nozzles bool
	mutex   sync.Mutex

	totalScrapes  prometheus.Counter
	decodeErrors  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
}

// New returns an Exporter for src. When nozzles is set each scrape also
// reads the last nozzle check result.
func New(src Source, timeout time.Duration, nozzles bool) *Exporter {
	return &Exporter{
		src:     src,
		timeout: timeout,
		nozzles: nozzles,
		totalScrapes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exporter_scrapes_total",
			Help:      "Current total printer scrapes.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exporter_decode_errors_total",
			Help:      "Number of printer replies that failed to decode.",
		}, []string{"query"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exporter_query_duration_seconds",
			Help:      "Histogram of SNMP query latencies.",
		}, []string{"query"}),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- upMetric
	ch <- readyMetric
	ch <- statusMetric
	ch <- inkMetric
	ch <- tankMetric
	ch <- nozzleMetric
	ch <- e.totalScrapes.Desc()
	e.decodeErrors.Describe(ch)
	e.queryDuration.Describe(ch)
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	up := e.scrape(ch)
	ch <- prometheus.MustNewConstMetric(upMetric, prometheus.GaugeValue, up)

	ch <- e.totalScrapes
	e.decodeErrors.Collect(ch)
	e.queryDuration.Collect(ch)
}

func (e *Exporter) scrape(ch chan<- prometheus.Metric) (up float64) {
	e.totalScrapes.Inc()

	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	st, err := e.src.Status(ctx)
	e.queryDuration.WithLabelValues("status").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("status scrape failed", "err", err)
		if isDecodeError(err) {
			e.decodeErrors.WithLabelValues("status").Inc()
		}
		return 0
	}

	ch <- prometheus.MustNewConstMetric(readyMetric, prometheus.GaugeValue, boolValue(st.Ready))
	ch <- prometheus.MustNewConstMetric(statusMetric, prometheus.GaugeValue, float64(st.Status), st.StatusText)
	for _, ink := range st.Inks {
		ch <- prometheus.MustNewConstMetric(inkMetric, prometheus.GaugeValue, float64(ink.Level),
			ink.Name, "0x"+strconv.FormatUint(uint64(ink.ColourID), 16))
	}
	if st.Tanks != nil {
		ch <- prometheus.MustNewConstMetric(tankMetric, prometheus.GaugeValue, float64(st.Tanks.Tank1), "1")
		ch <- prometheus.MustNewConstMetric(tankMetric, prometheus.GaugeValue, float64(st.Tanks.Tank2), "2")
	}

	if e.nozzles {
		e.scrapeNozzles(ctx, ch)
	}
	return 1
}

func (e *Exporter) scrapeNozzles(ctx context.Context, ch chan<- prometheus.Metric) {
	start := time.Now()
	nc, err := e.src.NozzleCheck(ctx)
	e.queryDuration.WithLabelValues("nozzle").Observe(time.Since(start).Seconds())
	if err == nil && len(nc) != escp.NozzleCount {
		err = escp.ErrNozzleCountMismatch
	}
	if err != nil {
		slog.Error("nozzle scrape failed", "err", err)
		if isDecodeError(err) {
			e.decodeErrors.WithLabelValues("nozzle").Inc()
		}
		return
	}
	for i, n := range escp.Nozzles() {
		ch <- prometheus.MustNewConstMetric(nozzleMetric, prometheus.GaugeValue, boolValue(nc[i]),
			n.Short, n.Long, n.Group.String())
	}
}

func isDecodeError(err error) bool {
	var de *escp.DecodeError
	return errors.As(err, &de) || errors.Is(err, escp.ErrNozzleCountMismatch)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
