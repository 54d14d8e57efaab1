package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/parking-prices/internal/feed"
	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/internal/lookup"
	"github.com/example/parking-prices/internal/models"
)

type Server struct {
	Lookup *lookup.Service
	Feed   *feed.Hub
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(r *http.Request) error

	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(svc *lookup.Service, hub *feed.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Lookup:   svc,
		Feed:     hub,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/map", s.handleMap).Methods("GET")
	s.mux.HandleFunc("/api/map", s.handleCreateMap).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.Feed != nil {
		s.mux.HandleFunc("/ws/locations", s.handleWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.Lookup.Lookup(r.Context(), q)
	if err != nil {
		if errors.Is(err, lookup.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(r.Context(), s.logger).Error("lookup_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func parseQuery(r *http.Request) (lookup.Query, error) {
	v := r.URL.Query()
	var q lookup.Query
	lat, lng := v.Get("lat"), v.Get("lng")
	if lat == "" || lng == "" {
		return q, errors.New("latitude & longitude are required")
	}
	var err error
	if q.Loc.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
		return q, errors.New("lat must be a number")
	}
	if q.Loc.Lon, err = strconv.ParseFloat(lng, 64); err != nil {
		return q, errors.New("lng must be a number")
	}
	if raw := v.Get("radius"); raw != "" {
		if q.Radius, err = strconv.ParseFloat(raw, 64); err != nil {
			return q, errors.New("radius must be a number of meters")
		}
	}
	if raw := v.Get("hours"); raw != "" {
		if q.Hours, err = strconv.Atoi(raw); err != nil || q.Hours <= 0 {
			return q, errors.New("hours must be a positive whole number")
		}
	}
	return q, nil
}

type priceRequest struct {
	Tiers          []models.Tier      `json:"tiers" validate:"dive"`
	OpeningHours   models.WeeklyHours `json:"opening_hours"`
	Spaces         int                `json:"spaces" validate:"gte=0"`
	DisabledSpaces int                `json:"disabled_spaces" validate:"gte=0,ltefield=Spaces"`
}

type createMapRequest struct {
	Name      string        `json:"name" validate:"required,max=200"`
	Address   string        `json:"address" validate:"max=500"`
	Rating    float64       `json:"rating" validate:"gte=0,lte=5"`
	Loc       *models.Coord `json:"loc" validate:"required"`
	PriceInfo *priceRequest `json:"price_info"`
}

func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var req createMapRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc := models.ParkingLocation{Name: req.Name, Address: req.Address, Rating: req.Rating, Loc: *req.Loc}
	var price *models.PriceInfo
	if p := req.PriceInfo; p != nil {
		price = &models.PriceInfo{Tiers: p.Tiers, OpeningHours: p.OpeningHours, Spaces: p.Spaces, DisabledSpaces: p.DisabledSpaces}
	}
	created, err := s.Lookup.Contribute(r.Context(), loc, price)
	if err != nil {
		if errors.Is(err, lookup.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(r.Context(), s.logger).Error("contribution_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store location")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("not_ready", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Debug("ws_upgrade_failed", "error", err)
		return
	}
	s.Feed.Add(conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
