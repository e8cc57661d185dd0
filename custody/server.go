package custody

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"custodyledger_go/txerr"
	"custodyledger_go/utils"
)

// Server exposes a Keystore over the custody HTTP interface. It is the
// development counterpart of a real custody service.
type Server struct {
	Router   *mux.Router
	keystore *Keystore
	log      zerolog.Logger
}

// NewServer creates a server for ks with its routes installed.
func NewServer(ks *Keystore) *Server {
	s := &Server{
		Router:   mux.NewRouter().UseEncodedPath(),
		keystore: ks,
		log:      utils.Component("custodyd"),
	}
	s.SetupRoutes()
	ProvisionedIdentities.Set(float64(ks.Count()))
	return s
}

// SetupRoutes configures the API routes
func (s *Server) SetupRoutes() {
	s.Router.Use(utils.RequestIDMiddleware)
	s.Router.HandleFunc("/ping", s.PingHandler).Methods("GET")
	s.Router.HandleFunc("/publickey/{identity}", s.instrument("publickey", s.PublicKeyHandler)).Methods("GET")
	s.Router.HandleFunc("/sign/{identity}", s.instrument("sign", s.SignHandler)).Methods("POST")
	s.Router.HandleFunc("/provision/{identity}", s.instrument("provision", s.ProvisionHandler)).Methods("POST")
	s.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.Router,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("custody server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// PingHandler answers liveness probes.
func (s *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// PublicKeyHandler returns the public key of an identity.
func (s *Server) PublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	rec, err := s.keystore.ResolvePublicKey(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: rec.PublicKey})
}

// SignHandler signs the request input with the identity's key.
func (s *Server) SignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req signRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResponseSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sign request: "+err.Error())
		return
	}
	if len(req.Input) == 0 {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	sig, err := s.keystore.Sign(r.Context(), id, req.Input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Debug().Str("identity", id.Key()).Int("payload", len(req.Input)).
		Str("request_id", utils.GetRequestIDFromContext(r.Context())).Msg("signed payload")
	writeJSON(w, http.StatusOK, signResponse{Signature: sig})
}

// ProvisionHandler creates a key for an identity, or returns the existing one.
func (s *Server) ProvisionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	rec, err := s.keystore.Provision(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ProvisionedIdentities.Set(float64(s.keystore.Count()))
	writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: rec.PublicKey})
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	raw, err := url.PathUnescape(mux.Vars(r)["identity"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed identity")
		return Identity{}, false
	}
	id, err := ParseIdentity(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return Identity{}, false
	}
	return id, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch txerr.KindOf(err) {
	case txerr.IdentityNotProvisioned:
		status = http.StatusNotFound
	case txerr.InvalidParameters:
		status = http.StatusBadRequest
	}
	var te *txerr.Error
	msg := err.Error()
	if errors.As(err, &te) {
		msg = te.Message
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("custody request failed")
	}
	writeError(w, status, msg)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		ServedRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("custody: error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}
