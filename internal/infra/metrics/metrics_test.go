//go:build !integration

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}

func TestCollectorsGatherUnderNormalizedLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(confirmationOutcomesTotal, gatewayRequestsTotal)

	IncConfirmationOutcome("  Activated ")
	ObserveGatewayCall("Init", "OK", 120*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	labels := map[string]string{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				labels[mf.GetName()+"/"+lp.GetName()] = lp.GetValue()
			}
		}
	}
	if labels["confirmation_outcomes_total/outcome"] != "activated" {
		t.Errorf("outcome label not normalized: %v", labels)
	}
	if labels["gateway_requests_total/op"] != "init" || labels["gateway_requests_total/result"] != "ok" {
		t.Errorf("gateway labels not normalized: %v", labels)
	}
}

func TestObserveHTTPRequestLabelsUnmatchedRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(httpRequestsTotal)

	ObserveHTTPRequest("", "GET", 404, time.Millisecond)
	ObserveHTTPRequest("/api/payments", "POST", 201, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	routes := map[string]bool{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" {
					routes[lp.GetValue()] = true
				}
			}
		}
	}
	if !routes["unmatched"] || !routes["/api/payments"] {
		t.Errorf("unexpected route labels %v", routes)
	}
}
