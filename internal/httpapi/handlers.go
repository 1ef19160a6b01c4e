// Package httpapi is the agent's local control surface: a small HTTP
// server that maps driver actions (go online, accept, verify OTP,
// complete) onto the session, plus metrics and a read-only status view.
// It binds to localhost in practice; there is no auth of its own.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-agent/internal/agent"
	"github.com/example/driver-agent/internal/journal"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/ride"
)

type Server struct {
	Session *agent.Session
	Trips   journal.Journal

	mux    *mux.Router
	logger *slog.Logger
}

func NewServer(sess *agent.Session, trips journal.Journal, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Session: sess, Trips: trips, mux: mux.NewRouter(), logger: logger}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/driver/online", s.handleOnline).Methods("POST")
	s.mux.HandleFunc("/driver/offline", s.handleOffline).Methods("POST")
	s.mux.HandleFunc("/driver/location", s.handleLocation).Methods("POST")
	s.mux.HandleFunc("/driver/ride/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/driver/ride/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/driver/ride/verify-otp", s.handleVerifyOTP).Methods("POST")
	s.mux.HandleFunc("/driver/ride/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/driver/ride/confirm-bill", s.handleConfirmBill).Methods("POST")
	s.mux.HandleFunc("/driver/hours/extend", s.handleExtend).Methods("POST")
	s.mux.HandleFunc("/driver/hours/skip-warning", s.handleSkipWarning).Methods("POST")
	s.mux.HandleFunc("/driver/push-token", s.handlePushToken).Methods("POST")
	s.mux.HandleFunc("/driver/logout", s.handleLogout).Methods("POST")
	s.mux.HandleFunc("/driver/status", s.handleStatus).Methods("GET")
	s.mux.HandleFunc("/driver/trips", s.handleTrips).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.Session.Online(r.Context()))
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmation string `json:"confirmation"`
	}
	decodeOptional(r, &body)
	err := s.Session.Offline(r.Context(), body.Confirmation)
	switch {
	case errors.Is(err, agent.ErrConfirmationRequired):
		writeJSON(w, http.StatusConflict, map[string]any{
			"success":              false,
			"confirmationRequired": true,
			"message":              "extension fee active, confirm with the last 4 characters of your driver id",
		})
	case errors.Is(err, agent.ErrBadConfirmation):
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "confirmation code mismatch"})
	default:
		s.respond(w, err)
	}
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.Session.UpdateLocation(r.Context(), loc)
	w.WriteHeader(204)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.Session.Machine.Accept(r.Context()))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.Session.Machine.Reject(r.Context()))
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	err := s.Session.Machine.VerifyOTP(r.Context(), body.OTP)
	if errors.Is(err, ride.ErrOTPMismatch) || errors.Is(err, ride.ErrOTPNotAssigned) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "message": err.Error()})
		return
	}
	s.respond(w, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Machine.Complete(r.Context()); err != nil {
		s.respond(w, err)
		return
	}
	bill, _ := s.Session.Machine.Bill()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bill": bill})
}

func (s *Server) handleConfirmBill(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.Session.Machine.BillConfirmed(r.Context()))
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	res, err := s.Session.Hours.PurchaseExtension(r.Context())
	if err != nil {
		s.respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "newWalletBalance": res.NewWalletBalance})
}

func (s *Server) handleSkipWarning(w http.ResponseWriter, r *http.Request) {
	s.Session.Hours.SkipWarning(r.Context())
	s.respond(w, nil)
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.respond(w, s.Session.RegisterPushToken(r.Context(), body.Token, body.Platform))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.Session.Logout(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.Session.Machine
	out := map[string]any{
		"presence":    m.Presence(),
		"rideStatus":  m.Status(),
		"travelledKm": m.TravelledKm(),
		"timer":       s.Session.Hours.Timer(),
	}
	if r, ok := m.CurrentRide(); ok {
		out["ride"] = r
	}
	if warning, showing := s.Session.Hours.CurrentWarning(); showing {
		out["warning"] = warning
	}
	if bill, ok := m.Bill(); ok {
		out["bill"] = bill
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	recent, err := s.Trips.Recent(r.Context(), s.Session.DriverID, 20)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

// respond maps session/machine errors onto HTTP statuses with the
// standard {success, message} envelope.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	status := http.StatusConflict
	switch {
	case errors.Is(err, ride.ErrActionInFlight):
		status = http.StatusTooManyRequests
	case errors.Is(err, ride.ErrNoLocation):
		status = http.StatusPreconditionFailed
	}
	writeJSON(w, status, map[string]any{"success": false, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeOptional(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}
