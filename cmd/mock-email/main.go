// mock-email is a stand-in for the email provider API used in local
// development: it accepts Postmark-style sends, injects failures at a
// configurable rate and reports what it has seen on /stats.
package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"newsletter/internal/logging"
)

type mockConfig struct {
	Port      string        `envconfig:"PORT" default:"9900"`
	LogFormat string        `envconfig:"LOG_FORMAT" default:"text"`
	ErrorRate float64       `envconfig:"MOCK_ERROR_RATE" default:"0"`
	ErrorCode int           `envconfig:"MOCK_ERROR_CODE" default:"500"`
	Latency   time.Duration `envconfig:"MOCK_LATENCY" default:"0"`
}

type sendRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

type stats struct {
	mu       sync.Mutex
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	PerTo    map[string]int `json:"perRecipient"`
}

func main() {
	var cfg mockConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	logging.Init("mock-email", cfg.LogFormat)

	st := &stats{PerTo: map[string]int{}}

	r := mux.NewRouter()
	r.HandleFunc("/email", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Latency > 0 {
			time.Sleep(cfg.Latency)
		}

		var body sendRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.To == "" {
			http.Error(w, `{"ErrorCode":300,"Message":"invalid request"}`, http.StatusUnprocessableEntity)
			return
		}

		st.mu.Lock()
		defer st.mu.Unlock()

		if rand.Float64() < cfg.ErrorRate {
			st.Rejected++
			slog.Info("mock send rejected", "to", body.To, "code", cfg.ErrorCode)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cfg.ErrorCode)
			_ = json.NewEncoder(w).Encode(map[string]any{"ErrorCode": 100, "Message": "injected failure"})
			return
		}

		st.Accepted++
		st.PerTo[body.To]++
		slog.Info("mock send accepted", "to", body.To, "subject", body.Subject)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ErrorCode": 0, "Message": "OK", "MessageID": "mock"})
	}).Methods(http.MethodPost)

	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}).Methods(http.MethodGet)

	slog.Info("mock email provider listening", "port", cfg.Port, "error_rate", cfg.ErrorRate)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("mock email server failed", "err", err)
		os.Exit(1)
	}
}
