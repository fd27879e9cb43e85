package reportserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"diaharness/internal/ledger"
)

// NewHandler builds the HTTP handler for the report page, JSON endpoints, the
// optional DuckDB file and the optional metrics endpoint.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Source == nil {
		return nil, errors.New("reportserver: trajectory source is required")
	}

	mux := http.NewServeMux()
	mux.Handle("/", getOnly(serveIndex(cfg.Source)))
	mux.Handle("/api/trajectory", getOnly(serveTrajectory(cfg.Source)))
	mux.Handle("/api/summary", getOnly(serveSummary(cfg.Source)))
	if cfg.DBPath != "" {
		mux.Handle("/data/db.duckdb", getOnly(serveDatabase(cfg.DBPath)))
	}
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}
	return mux, nil
}

func getOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serveIndex renders the HTML overview of the run.
func serveIndex(source Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		doc, err := source()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexPage(doc, ledger.Summarize(doc.Iterations)).Render(r.Context(), w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func serveTrajectory(source Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		doc, err := source()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, doc)
	})
}

func serveSummary(source Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		doc, err := source()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ledger.Summarize(doc.Iterations))
	})
}

// serveDatabase serves the DuckDB file from disk for offline analysis.
func serveDatabase(dbPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, dbPath)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}
