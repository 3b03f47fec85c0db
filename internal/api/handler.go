package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/query"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	querier  query.Querier
	requests *prometheus.CounterVec
}

// NewRouter wires the read-only flow routes and the metrics endpoint of reg.
func NewRouter(querier query.Querier, reg *prometheus.Registry) *mux.Router {
	h := &APIHandler{
		querier: querier,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_api_requests_total",
			Help: "Number of query API requests by route and status code",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(h.requests)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/flows", h.listFlowsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/flows/{proto}/{src}/{src_port}/{dst}/{dst_port}", h.getFlowHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/summary", h.summaryHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// listFlowsHandler returns every flow report ordered by key.
func (h *APIHandler) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	reports, err := h.querier.Flows(r.Context())
	if err != nil {
		h.fail(w, "flows", fmt.Sprintf("failed to query flows: %v", err), http.StatusInternalServerError)
		return
	}
	h.reply(w, "flows", reports)
}

// getFlowHandler looks one flow up in either orientation.
func (h *APIHandler) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromVars(mux.Vars(r))
	if err != nil {
		h.fail(w, "flow", err.Error(), http.StatusBadRequest)
		return
	}
	report, ok, err := h.querier.Flow(r.Context(), key)
	if err != nil {
		h.fail(w, "flow", fmt.Sprintf("failed to query flow: %v", err), http.StatusInternalServerError)
		return
	}
	if !ok {
		h.fail(w, "flow", fmt.Sprintf("flow %s not found", key), http.StatusNotFound)
		return
	}
	h.reply(w, "flow", report)
}

// summaryHandler returns the flow, packet and byte totals.
func (h *APIHandler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.querier.Summary(r.Context())
	if err != nil {
		h.fail(w, "summary", fmt.Sprintf("failed to query summary: %v", err), http.StatusInternalServerError)
		return
	}
	h.reply(w, "summary", summary)
}

func keyFromVars(vars map[string]string) (statistic.Key, error) {
	proto, err := strconv.ParseUint(vars["proto"], 10, 8)
	if err != nil {
		return statistic.Key{}, fmt.Errorf("invalid transport protocol %q", vars["proto"])
	}
	srcPort, err := strconv.ParseUint(vars["src_port"], 10, 16)
	if err != nil {
		return statistic.Key{}, fmt.Errorf("invalid source port %q", vars["src_port"])
	}
	dstPort, err := strconv.ParseUint(vars["dst_port"], 10, 16)
	if err != nil {
		return statistic.Key{}, fmt.Errorf("invalid destination port %q", vars["dst_port"])
	}
	return statistic.NewKey(uint8(proto), vars["src"], vars["dst"], uint16(srcPort), uint16(dstPort))
}

func (h *APIHandler) reply(w http.ResponseWriter, route string, body any) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		h.fail(w, route, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	h.requests.WithLabelValues(route, strconv.Itoa(http.StatusOK)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Printf("Error writing %s response: %v", route, err)
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, route, msg string, code int) {
	h.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	http.Error(w, msg, code)
}
