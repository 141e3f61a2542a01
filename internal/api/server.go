package api

import (
	"FlowSpectra/internal/engine/flow"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/query"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// SnapshotSource exposes the collectors and their latest exports.
type SnapshotSource interface {
	Collectors() []model.Collector
	Collector(name string) (model.Collector, bool)
	Latest(name string) (*model.Snapshot, bool)
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	source SnapshotSource
	// querier is nil when no ClickHouse writer is configured.
	querier query.Querier
}

// NewRouter builds the HTTP routes.
func NewRouter(source SnapshotSource, querier query.Querier) *mux.Router {
	h := &APIHandler{source: source, querier: querier}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Kept on the root router so method mismatches answer 405.
	const v1 = "/api/v1"
	r.HandleFunc(v1+"/collectors", h.collectorsHandler).Methods("GET")
	r.HandleFunc(v1+"/collectors/{name}/snapshot", h.snapshotHandler).Methods("GET")
	r.HandleFunc(v1+"/collectors/{name}/sort", h.sortHandler).Methods("PUT")
	r.HandleFunc(v1+"/history", h.historyHandler).Methods("GET")
	r.HandleFunc(v1+"/summaries", h.summariesHandler).Methods("GET")
	return r
}

type collectorInfo struct {
	Name         string              `json:"name"`
	LiveFlows    int                 `json:"live_flows"`
	SortFields   []string            `json:"sort_fields"`
	DisplayPairs map[string][]string `json:"display_pairs"`
}

type recordJSON struct {
	Key    string            `json:"key"`
	Fqdn   string            `json:"fqdn"`
	IP     string            `json:"ip,omitempty"`
	Port   uint16            `json:"port,omitempty"`
	Type   string            `json:"type,omitempty"`
	Proto  string            `json:"proto"`
	Client map[string]string `json:"client"`
	Server map[string]string `json:"server"`
}

type metricJSON struct {
	Name  string            `json:"name"`
	Value float64           `json:"value"`
	Kind  string            `json:"kind"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type snapshotJSON struct {
	Collector string       `json:"collector"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  int          `json:"duration"`
	Records   []recordJSON `json:"records"`
	Metrics   []metricJSON `json:"metrics"`
}

// SnapshotJSON converts a snapshot to its response body.
func SnapshotJSON(s *model.Snapshot) any {
	out := snapshotJSON{
		Collector: s.Collector,
		Timestamp: s.Timestamp,
		Duration:  s.Duration,
		Records:   make([]recordJSON, 0, len(s.Records)),
		Metrics:   make([]metricJSON, 0, len(s.Metrics)),
	}
	for _, r := range s.Records {
		out.Records = append(out.Records, recordJSON{
			Key:    r.Key.String(),
			Fqdn:   r.Key.Fqdn,
			IP:     r.Key.IPString(),
			Port:   r.Key.Port,
			Type:   r.Key.Type,
			Proto:  r.Key.Transport.String(),
			Client: r.Client,
			Server: r.Server,
		})
	}
	for _, m := range s.Metrics {
		mj := metricJSON{Name: m.Name, Value: m.Value, Kind: m.Kind.String()}
		if len(m.Tags) > 0 {
			mj.Tags = make(map[string]string, len(m.Tags))
			for _, t := range m.Tags {
				mj.Tags[t.Key] = t.Value
			}
		}
		out.Metrics = append(out.Metrics, mj)
	}
	return out
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) collectorsHandler(w http.ResponseWriter, r *http.Request) {
	var infos []collectorInfo
	for _, c := range h.source.Collectors() {
		info := collectorInfo{
			Name:         c.Name(),
			LiveFlows:    c.LiveFlows(),
			DisplayPairs: make(map[string][]string),
		}
		for _, f := range c.SortFields() {
			info.SortFields = append(info.SortFields, f.String())
		}
		for _, p := range c.DisplayPairs() {
			for _, f := range p.Fields {
				info.DisplayPairs[p.Name] = append(info.DisplayPairs[p.Name], f.String())
			}
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *APIHandler) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.source.Collector(name); !ok {
		http.Error(w, fmt.Sprintf("unknown collector: %s", name), http.StatusNotFound)
		return
	}
	snap, ok := h.source.Latest(name)
	if !ok {
		http.Error(w, fmt.Sprintf("no snapshot exported yet for %s", name), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotJSON(snap))
}

// sortHandler changes the ordering used by the next exports.
func (h *APIHandler) sortHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, ok := h.source.Collector(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown collector: %s", name), http.StatusNotFound)
		return
	}
	field, err := flow.ParseField(r.URL.Query().Get("field"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reverse := false
	if v := r.URL.Query().Get("reverse"); v != "" {
		if reverse, err = strconv.ParseBool(v); err != nil {
			http.Error(w, fmt.Sprintf("invalid reverse flag: %v", err), http.StatusBadRequest)
			return
		}
	}
	c.SetSortField(field, reverse)
	log.WithFields(log.Fields{"collector": name, "field": field, "reverse": reverse}).Info("Sort order changed")
	writeJSON(w, http.StatusOK, map[string]any{"collector": name, "field": field.String(), "reverse": reverse})
}

func (h *APIHandler) historyHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "history needs an enabled clickhouse writer", http.StatusNotImplemented)
		return
	}
	q := r.URL.Query()
	req := query.HistoryRequest{
		Collector: q.Get("collector"),
		Fqdn:      q.Get("fqdn"),
		Field:     q.Get("field"),
		Direction: q.Get("dir"),
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since: %v", err), http.StatusBadRequest)
			return
		}
		req.Since = time.Now().Add(-d)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}
		req.Limit = n
	}

	points, err := h.querier.History(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *APIHandler) summariesHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "summaries need an enabled clickhouse writer", http.StatusNotImplemented)
		return
	}
	since := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since: %v", err), http.StatusBadRequest)
			return
		}
		since = d
	}
	summaries, err := h.querier.Summaries(r.Context(), time.Now().Add(-since))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query summaries: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
