// Command bank-mock is a stand-in for the bank's 3D hosting page. It checks the
// signed request and sends signed callbacks back, choosing the outcome from the
// cents of the amount.
package main

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"payment-gateway-service/internal/signature"
)

const (
	defaultAddr   = ":8085"
	defaultSecret = "TEST1234"
)

// Amount cents that trigger non-approved outcomes.
const (
	centsInsufficientFunds = "51"
	centsGenericDecline    = "05"
	centsAuthFailed        = "99"
	centsBadSignature      = "13"
)

type outcome struct {
	mdStatus       string
	response       string
	procReturnCode string
	errMsg         string
}

func outcomeFor(amount string) outcome {
	cents := ""
	if i := strings.LastIndex(amount, "."); i >= 0 {
		cents = amount[i+1:]
	}

	switch cents {
	case centsInsufficientFunds:
		return outcome{mdStatus: "1", response: "Declined", procReturnCode: "51", errMsg: "Insufficient funds"}
	case centsGenericDecline:
		return outcome{mdStatus: "1", response: "Declined", procReturnCode: "05", errMsg: "Declined"}
	case centsAuthFailed:
		return outcome{mdStatus: "0", response: "Declined", errMsg: "3-D authentication failed"}
	}
	return outcome{mdStatus: "1", response: "Approved", procReturnCode: "00"}
}

type bank struct {
	secret string
	client *http.Client
	logger *slog.Logger
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	b := &bank{
		secret: getEnv("BANK_MOCK_SECRET", defaultSecret),
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(countMiddleware(logger))
	r.Post("/fim/est3Dgate", b.hostedPage)
	r.Head("/fim/est3Dgate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := getEnv("BANK_MOCK_ADDR", defaultAddr)
	logger.Info("Bank mock listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("Bank mock stopped", "error", err)
		os.Exit(1)
	}
}

// hostedPage plays the bank: it verifies the merchant signature, notifies the
// merchant server to server and sends the browser back with a signed form.
func (b *bank) hostedPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	request := map[string]string{}
	for key := range r.PostForm {
		request[key] = r.PostForm.Get(key)
	}

	ok, err := signature.Verify(request, b.secret, request["hash"])
	if err != nil || !ok {
		b.logger.Warn("Merchant signature mismatch", "oid", request["oid"])
		http.Error(w, "Security check failed", http.StatusForbidden)
		return
	}

	result := outcomeFor(request["amount"])
	fields := map[string]string{
		"oid":            request["oid"],
		"amount":         request["amount"],
		"currency":       request["currency"],
		"rnd":            request["rnd"],
		"clientid":       request["clientid"],
		"mdStatus":       result.mdStatus,
		"Response":       result.response,
		"ProcReturnCode": result.procReturnCode,
		"ErrMsg":         result.errMsg,
	}
	if result.response == "Approved" {
		fields["TransId"] = uuid.NewString()
		fields["AuthCode"] = strconv.Itoa(100000 + int(time.Now().UnixNano()%900000))
	}

	hash, err := signature.Sign(fields, b.secret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fields["HASH"] = hash

	if strings.HasSuffix(request["amount"], "."+centsBadSignature) {
		fields["amount"] = "0.01"
	}

	if callbackURL := request["callbackUrl"]; callbackURL != "" {
		b.notify(r, callbackURL, fields)
	}

	target := request["okUrl"]
	if result.response != "Approved" {
		target = request["failUrl"]
	}
	if err := renderForm(w, target, fields); err != nil {
		b.logger.Error("Error rendering return form", "error", err)
	}
}

func (b *bank) notify(r *http.Request, callbackURL string, fields map[string]string) {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, callbackURL, strings.NewReader(form.Encode()))
	if err != nil {
		b.logger.Error("Error creating callback request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("Error sending callback", "url", callbackURL, "error", err)
		return
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	b.logger.Info("Merchant acknowledged callback", "status", resp.StatusCode, "body", body.String())
}

var returnForm = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html><body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}</form>
</body></html>
`))

func renderForm(w http.ResponseWriter, action string, params map[string]string) error {
	type field struct{ Name, Value string }
	fields := make([]field, 0, len(params))
	for k, v := range params {
		fields = append(fields, field{Name: k, Value: v})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return returnForm.Execute(w, struct {
		Action string
		Fields []field
	}{Action: action, Fields: fields})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
