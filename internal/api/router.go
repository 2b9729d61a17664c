package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nexusedu/credit-service/internal/infrastructure/auth"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := fmt.Sprintf("%d", recorder.status)
		RequestCounter.WithLabelValues(r.Method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func SetupRouter(h *Handler, redisClient redis.RedisClient, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/accounts/{id}/consume", h.Consume).Methods("POST")
	r.HandleFunc("/accounts/{id}/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/accounts/{id}/transactions", h.GetHistory).Methods("GET")
	r.HandleFunc("/tickets", h.OpenTicket).Methods("POST")
	r.HandleFunc("/tickets/{id}/nps", h.RecordNPS).Methods("POST")
	r.Handle("/metrics", promhttp.Handler())

	protected := r.NewRoute().Subrouter()
	protected.Use(auth.AgentMiddleware(redisClient, jwtSecret))
	protected.HandleFunc("/accounts/{id}/credit", h.Credit).Methods("POST")
	protected.HandleFunc("/accounts/{id}/refund", h.Refund).Methods("POST")
	protected.HandleFunc("/tickets", h.Queue).Methods("GET")
	protected.HandleFunc("/tickets/{id}", h.GetTicket).Methods("GET")
	protected.HandleFunc("/tickets/{id}/transition", h.Transition).Methods("POST")
	protected.HandleFunc("/tickets/{id}/message", h.PostMessage).Methods("POST")
	protected.HandleFunc("/finance-requests", h.CreateFinanceRequest).Methods("POST")
	protected.HandleFunc("/finance-requests", h.ListFinanceRequests).Methods("GET")
	protected.HandleFunc("/finance-requests/{id}/resolve", h.ResolveFinanceRequest).Methods("POST")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}
