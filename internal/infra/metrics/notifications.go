package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		notificationsReceivedTotal,
		confirmationOutcomesTotal,
		inboxAttemptsTotal,
		ratelimitDecisionsTotal,
		schedRunsTotal,
	)
}

var (
	// result: accepted|bad_token|bad_json|store_error
	notificationsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_notifications_received_total",
			Help: "Inbound gateway notifications by intake result.",
		},
		[]string{"result"},
	)

	// outcome: activated|already_active|failed|ignored|unknown_order
	confirmationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confirmation_outcomes_total",
			Help: "Confirmation processor results by outcome.",
		},
		[]string{"outcome"},
	)

	// status: processed|retry|exhausted
	inboxAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_inbox_attempts_total",
			Help: "Processing attempts on stored notifications.",
		},
		[]string{"status"},
	)

	ratelimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by scope and result.",
		},
		[]string{"scope", "result"}, // result: 'allowed', 'limited', 'error'
	)

	schedRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sched_runs_total",
			Help: "Background sweeper runs by worker and status.",
		},
		[]string{"worker", "status"}, // 'ok', 'error', 'skipped'
	)
)

func IncNotificationReceived(result string) {
	notificationsReceivedTotal.WithLabelValues(norm(result)).Inc()
}

func IncConfirmationOutcome(outcome string) {
	confirmationOutcomesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncInboxAttempt(status string) {
	inboxAttemptsTotal.WithLabelValues(norm(status)).Inc()
}

func IncRateLimit(scope, result string) {
	ratelimitDecisionsTotal.WithLabelValues(norm(scope), norm(result)).Inc()
}

func IncSchedRun(worker, status string) {
	schedRunsTotal.WithLabelValues(norm(worker), norm(status)).Inc()
}
