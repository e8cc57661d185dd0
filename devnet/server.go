package devnet

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"custodyledger_go/node"
	"custodyledger_go/utils"
)

const (
	// DefaultMaxWait caps how long a wait-for-block request is held open.
	DefaultMaxWait = time.Minute
	maxRawBody     = 1 << 20
)

// Server serves the node API over a Ledger.
type Server struct {
	Router  *mux.Router
	ledger  *Ledger
	token   string
	maxWait time.Duration
	log     zerolog.Logger
}

// NewServer creates a server for l. A non-empty token must accompany every
// API call in the node token header.
func NewServer(l *Ledger, token string, maxWait time.Duration) *Server {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	s := &Server{
		Router:  mux.NewRouter(),
		ledger:  l,
		token:   token,
		maxWait: maxWait,
		log:     utils.Component("devnet-api"),
	}
	s.SetupRoutes()
	return s
}

// SetupRoutes configures the API routes
func (s *Server) SetupRoutes() {
	s.Router.Use(utils.RequestIDMiddleware)
	s.Router.HandleFunc("/ping", s.PingHandler).Methods("GET")
	s.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.Router.NewRoute().Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/transaction-params", s.ParamsHandler).Methods("GET")
	api.HandleFunc("/raw-transaction", s.RawTransactionHandler).Methods("POST")
	api.HandleFunc("/pending-transaction/{txid}", s.PendingHandler).Methods("GET")
	api.HandleFunc("/status", s.StatusHandler).Methods("GET")
	api.HandleFunc("/status/wait-for-block-after/{round}", s.WaitHandler).Methods("GET")
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.Router,
		Addr:         addr,
		WriteTimeout: s.maxWait + 15*time.Second,
		ReadTimeout:  15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("devnet node listening")
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

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(node.TokenHeader)), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PingHandler answers liveness probes.
func (s *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// ParamsHandler returns the current transaction parameters.
func (s *Server) ParamsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Params())
}

// RawTransactionHandler accepts concatenated signed records.
func (s *Server) RawTransactionHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRawBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "empty submission")
		return
	}
	txid, err := s.ledger.Submit(raw)
	if err != nil {
		var rejected *Rejection
		if errors.As(err, &rejected) {
			s.log.Info().Str("reason", rejected.Message).
				Str("request_id", utils.GetRequestIDFromContext(r.Context())).Msg("submission rejected")
			writeError(w, http.StatusBadRequest, rejected.Message)
			return
		}
		s.log.Error().Err(err).Msg("submission failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node.SubmitResponse{TxID: txid})
}

// PendingHandler reports a transaction's pool state.
func (s *Server) PendingHandler(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	p, known, err := s.ledger.Pending(txid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !known {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// StatusHandler returns the last round.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Status())
}

// WaitHandler holds the request until a round after the given one exists or
// the wait cap passes.
func (s *Server) WaitHandler(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseUint(mux.Vars(r)["round"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.maxWait)
	defer cancel()
	writeJSON(w, http.StatusOK, s.ledger.WaitForBlockAfter(ctx, round))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("devnet: error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, node.ErrorResponse{Message: msg})
}
