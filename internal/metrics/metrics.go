// Package metrics holds the extender's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

const namespace = "extender"

type Metrics struct {
	reg *prom.Registry

	Logins         *prom.CounterVec
	AuthRejections *prom.CounterVec
	Commands       *prom.CounterVec
	Reconciles     *prom.CounterVec
	Requests       *prom.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prom.NewRegistry(),
		Logins: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		AuthRejections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejections_total",
			Help:      "Guarded requests rejected, by internal cause.",
		}, []string{"reason"}),
		Commands: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "External commands issued, by program and result.",
		}, []string{"program", "result"}),
		Reconciles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Wireless reconciliations, by trigger and result.",
		}, []string{"trigger", "result"}),
		Requests: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prom.DefBuckets,
		}, []string{"route", "status"}),
	}
	m.reg.MustRegister(
		m.Logins, m.AuthRejections, m.Commands, m.Reconciles, m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prom.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Login(ok bool) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.AuthRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Command(program string, err error) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(program, result(err == nil)).Inc()
}

func (m *Metrics) Reconciled(trigger string, failures int) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(trigger, result(failures == 0)).Inc()
}

func (m *Metrics) ObserveRequest(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Observe(seconds)
}

// Handler writes the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if m == nil {
			return
		}
		mfs, err := m.reg.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range mfs {
			_ = enc.Encode(mf)
		}
	})
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
