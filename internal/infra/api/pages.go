package api

import (
	"html/template"
	"net/http"
)

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Payment {{if .OK}}Success{{else}}Failed{{end}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{if .OK}}Payment received{{else}}Payment not completed{{end}}</h2>
  <p>{{.Msg}}</p>
  {{if .OrderID}}<div class="small">Order {{.OrderID}}</div>{{end}}
</div>
</body>
</html>`))

func renderResult(w http.ResponseWriter, ok bool, msg, orderID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = resultPage.Execute(w, struct {
		OK      bool
		Msg     string
		OrderID string
	}{ok, msg, orderID})
}

func (s *Server) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	renderResult(w, true, "Thank you. Your sign-in details will arrive by email as soon as the bank confirms the payment.", r.URL.Query().Get("OrderId"))
}

func (s *Server) handlePaymentFail(w http.ResponseWriter, r *http.Request) {
	renderResult(w, false, "The payment was not completed. Please try again.", r.URL.Query().Get("OrderId"))
}
