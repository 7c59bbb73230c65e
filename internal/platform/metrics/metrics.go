// Package metrics exposes the dose-accounting counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaxportal"

var (
	VaccinationsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "vaccinations_recorded_total", Help: "Vaccination records created",
	})
	VaccinationsUpdated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "vaccinations_updated_total", Help: "Vaccination records updated",
	})
	VaccinationsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "vaccinations_deleted_total", Help: "Vaccination records deleted",
	})
	DosesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "doses_consumed_total", Help: "Drive doses decremented by vaccinations",
	})
	DosesRestored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "doses_restored_total", Help: "Drive doses returned by deleted or moved vaccinations",
	})
	RuleRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "rule_rejections_total", Help: "Requests rejected by a business rule",
	}, []string{"operation", "code"})
	DrivesScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "drives_scheduled_total", Help: "Vaccination drives created",
	})
	ReportExports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "report_exports_total", Help: "Vaccination report workbooks generated",
	})
)

func init() {
	prometheus.MustRegister(
		VaccinationsRecorded, VaccinationsUpdated, VaccinationsDeleted,
		DosesConsumed, DosesRestored, RuleRejections,
		DrivesScheduled, ReportExports,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

// Reject counts a business-rule rejection for operation.
func Reject(operation, code string) {
	RuleRejections.WithLabelValues(operation, code).Inc()
}
