package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		credentialEmailsTotal,
		operatorAlertsTotal,
	)
}

var (
	// status: sent|retry|exhausted
	credentialEmailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_emails_total",
			Help: "Credential email delivery attempts by status.",
		},
		[]string{"status"},
	)

	operatorAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_alerts_total",
			Help: "Telegram operator alerts by delivery status.",
		},
		[]string{"status"}, // 'sent', 'error'
	)
)

func IncCredentialEmail(status string) {
	credentialEmailsTotal.WithLabelValues(norm(status)).Inc()
}

func IncOperatorAlert(status string) {
	operatorAlertsTotal.WithLabelValues(norm(status)).Inc()
}
