package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/route-watch/internal/apperr"
	"github.com/example/route-watch/internal/dispatch"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/storage"
)

const (
	historyLimit = 50
	readyTimeout = 2 * time.Second
)

// LiveView produces the current upstream routes annotated for one owner.
type LiveView interface {
	Live(ctx context.Context, ownerID string) ([]models.LiveRoute, error)
}

// Server is the read-only HTTP surface of the engine.
type Server struct {
	Live   LiveView
	Ledger storage.Ledger
	Hub    *dispatch.Hub
	logger logging.Logger
	mux    *mux.Router
}

func NewServer(live LiveView, ledger storage.Ledger, hub *dispatch.Hub, log logging.Logger) *Server {
	s := &Server{
		Live:   live,
		Ledger: ledger,
		Hub:    hub,
		logger: log.With(map[string]interface{}{"component": "http"}),
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/v1/notifications", s.handleHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/routes/live", s.handleLive).Methods("GET")
	if s.Hub != nil {
		s.mux.HandleFunc("/ws/notifications", s.handleWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.Ledger.Ping(ctx); err != nil {
		http.Error(w, "ledger not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(200)
	_, _ = w.Write([]byte("ready"))
}

type historyItem struct {
	models.NotifiedRide
	TravelHours *float64 `json:"travel_hours,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	rides, err := s.Ledger.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("history query failed", nil)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	items := make([]historyItem, 0, len(rides))
	for _, ride := range rides {
		items = append(items, historyItem{NotifiedRide: ride, TravelHours: ride.TravelHours()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items, "count": len(items)})
}

type liveResponse struct {
	Routes         []models.LiveRoute `json:"routes"`
	TotalRoutes    int                `json:"total_routes"`
	MatchingRoutes int                `json:"matching_routes"`
	APIError       string             `json:"api_error,omitempty"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	routes, err := s.Live.Live(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		if apperr.IsFetchError(err) || apperr.IsParseError(err) {
			// upstream trouble is reported in-band so the view still renders
			writeJSON(w, http.StatusOK, liveResponse{Routes: []models.LiveRoute{}, APIError: err.Error()})
			return
		}
		s.logger.WithError(err).Error("live view failed", nil)
		writeError(w, http.StatusInternalServerError, "live view unavailable")
		return
	}

	resp := liveResponse{Routes: routes, TotalRoutes: len(routes)}
	for _, lr := range routes {
		if len(lr.Matches) > 0 {
			resp.MatchingRoutes++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := s.Hub.Add(conn)
	defer s.Hub.Remove(id)

	// listeners never send; reading only detects the close
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
