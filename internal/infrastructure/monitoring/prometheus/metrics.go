package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/ertviz/pkg/errors"
)

// AppMetrics holds the service metrics.
type AppMetrics struct {
	// Backend
	FetchTotal    CounterVec
	FetchDuration HistogramVec

	// Figures
	BuildsTotal      CounterVec
	BuildDuration    HistogramVec
	BuildSeries      HistogramVec
	SelectionUpdates CounterVec
	RendersTotal     CounterVec
	SnapshotsTotal   CounterVec

	// Sessions and push
	ActiveSessions   GaugeVec
	WebsocketClients GaugeVec
	EventsTotal      CounterVec

	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
}

var (
	DefaultFetchDurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultBuildDurationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	DefaultSeriesBuckets        = []float64{1, 4, 10, 25, 50, 100, 250, 500, 1000}
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// NewAppMetrics registers every service metric on c.
func NewAppMetrics(c MetricsCollector) *AppMetrics {
	return &AppMetrics{
		FetchTotal:    c.RegisterCounter("backend_fetch_total", "Backend requests by kind and status.", "kind", "status"),
		FetchDuration: c.RegisterHistogram("backend_fetch_duration_seconds", "Backend request latency.", DefaultFetchDurationBuckets, "kind"),

		BuildsTotal:      c.RegisterCounter("figure_builds_total", "Figure builds by outcome.", "outcome"),
		BuildDuration:    c.RegisterHistogram("figure_build_duration_seconds", "Figure build latency.", DefaultBuildDurationBuckets, "outcome"),
		BuildSeries:      c.RegisterHistogram("figure_series", "Series per built figure.", DefaultSeriesBuckets),
		SelectionUpdates: c.RegisterCounter("selection_updates_total", "Realization selection updates applied to a figure."),
		RendersTotal:     c.RegisterCounter("figure_renders_total", "PNG renders by outcome.", "outcome"),
		SnapshotsTotal:   c.RegisterCounter("figure_snapshots_total", "Snapshot exports by outcome.", "outcome"),

		ActiveSessions:   c.RegisterGauge("sessions_active", "Viewer sessions held in memory."),
		WebsocketClients: c.RegisterGauge("websocket_clients", "Connected websocket clients."),
		EventsTotal:      c.RegisterCounter("events_total", "Controller events by type and sink.", "type", "sink"),

		HTTPRequestsTotal:   c.RegisterCounter("http_requests_total", "HTTP requests by method, route and status.", "method", "route", "status"),
		HTTPRequestDuration: c.RegisterHistogram("http_request_duration_seconds", "HTTP request latency.", DefaultHTTPDurationBuckets, "method", "route"),
	}
}

// RecordFetch counts one backend request.  status 0 is a transport failure.
func (m *AppMetrics) RecordFetch(kind string, status int, elapsed time.Duration) {
	code := "transport_error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.FetchTotal.WithLabelValues(kind, code).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordBuild counts one figure build.  Failed builds are labelled with
// their error code.
func (m *AppMetrics) RecordBuild(series int, elapsed time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = string(errors.GetCode(err))
	}
	m.BuildsTotal.WithLabelValues(outcome).Inc()
	m.BuildDuration.WithLabelValues(outcomeLabel(err)).Observe(elapsed.Seconds())
	if err == nil {
		m.BuildSeries.WithLabelValues().Observe(float64(series))
	}
}

func (m *AppMetrics) RecordSelection() {
	m.SelectionUpdates.WithLabelValues().Inc()
}

func (m *AppMetrics) RecordRender(err error) {
	m.RendersTotal.WithLabelValues(outcomeLabel(err)).Inc()
}

func (m *AppMetrics) RecordSnapshot(err error) {
	m.SnapshotsTotal.WithLabelValues(outcomeLabel(err)).Inc()
}

func (m *AppMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.WithLabelValues().Set(float64(n))
}

func (m *AppMetrics) WebsocketConnected()    { m.WebsocketClients.WithLabelValues().Inc() }
func (m *AppMetrics) WebsocketDisconnected() { m.WebsocketClients.WithLabelValues().Dec() }

// RecordEvent counts an event delivered to sink ("bus", "websocket",
// "kafka").
func (m *AppMetrics) RecordEvent(eventType, sink string) {
	m.EventsTotal.WithLabelValues(eventType, sink).Inc()
}

func (m *AppMetrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func outcomeLabel(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
