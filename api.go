package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"strconv"

	"storewatch/logger"
	"storewatch/reports"
	"storewatch/storage"

	"github.com/google/uuid"
)

// API serves the report endpoints and the dashboard.
type API struct {
	store   storage.Store
	manager *reports.Manager
	log     *logger.Logger
}

// NewAPI creates the HTTP handler set.
func NewAPI(store storage.Store, manager *reports.Manager, log *logger.Logger) *API {
	return &API{store: store, manager: manager, log: log}
}

// Routes registers all handlers on a new mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/trigger_report", a.handleTriggerReport)
	mux.HandleFunc("/get_report", a.handleGetReport)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/", a.handleDashboard)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// handleTriggerReport starts (or joins) a fleet report run and returns its id.
func (a *API) handleTriggerReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := a.manager.Trigger(r.Context())
	if err != nil {
		a.log.Error("Trigger failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not trigger report"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"report_id": id.String()})
}

// handleGetReport reports the state of a report request. Unknown and
// malformed ids both answer Not Found with 200, matching the trigger/poll
// contract clients already rely on.
func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := uuid.Parse(r.URL.Query().Get("report_id"))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "Not Found"})
		return
	}

	state, path, err := a.manager.Resolve(r.Context(), id)
	if err != nil {
		a.log.Error("Resolve failed", "report_id", id.String(), "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not resolve report"})
		return
	}

	switch state {
	case reports.ResolveGenerating:
		writeJSON(w, http.StatusOK, map[string]string{"status": "generating", "report_id": id.String()})
	case reports.ResolveCompleted:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="store_monitoring_%s.csv"`, id))
		w.Header().Set("status", "Completed")
		http.ServeFile(w, r, path)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Not Found"})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := a.store.CountObservations(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "observations": count})
}

type dashboardRow struct {
	StoreID   string
	UptimePct float64
	Uptime    float64
	Downtime  float64
}

type dashboardData struct {
	Ready bool
	Rows  []dashboardRow
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<title>storewatch</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { padding: 4px 10px; text-align: left; }
.bar { background: #e0e0e0; width: 300px; height: 14px; }
.bar > div { background: #4caf50; height: 14px; }
</style>
</head>
<body>
<h1>Store uptime</h1>
{{if .Ready}}
<table>
<tr><th>Store</th><th>Uptime</th><th></th></tr>
{{range .Rows}}
<tr>
<td>{{.StoreID}}</td>
<td>{{printf "%.1f" .UptimePct}}%</td>
<td><div class="bar"><div style="width: {{printf "%.0f" .UptimePct}}%"></div></div></td>
</tr>
{{end}}
</table>
{{else}}
<p>Summary is being generated, refresh in a moment.</p>
{{end}}
</body>
</html>
`))

// handleDashboard renders the all-time uptime summary. When the summary
// artifact is missing a background rebuild is kicked off and a placeholder
// page is served.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := dashboardData{}
	f, err := os.Open(a.manager.TotalPath())
	if err != nil {
		a.manager.EnsureTotal()
	} else {
		defer f.Close()
		records, err := csv.NewReader(f).ReadAll()
		if err == nil && len(records) > 1 {
			data.Ready = true
			for _, rec := range records[1:] {
				if len(rec) < 3 {
					continue
				}
				up, _ := strconv.ParseFloat(rec[1], 64)
				down, _ := strconv.ParseFloat(rec[2], 64)
				row := dashboardRow{StoreID: rec[0], Uptime: up, Downtime: down}
				if total := up + down; total > 0 {
					row.UptimePct = 100 * up / total
				}
				data.Rows = append(data.Rows, row)
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		a.log.Error("Dashboard render failed", "error", err.Error())
	}
}
