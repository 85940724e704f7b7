package replication

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"github.com/roach88/contentnode/internal/store"
)

// DefaultExportPageSize caps the records returned by one GET /export.
const DefaultExportPageSize = 1000

// walletTTL is how long a resolved wallet stays in the lookup cache.
// A user's wallet never changes, so expiry only bounds memory.
const walletTTL = 10 * time.Minute

// Server is a node's HTTP surface for replication:
//
//	POST /sync                        accept a trigger, pull in the background
//	GET  /users/clock_status/{wallet} replicated clock, -1 when unknown
//	GET  /export                      records with clock >= clock_range_min
//	GET  /health                      liveness
//
// Every node serves all routes; whether it acts as primary or secondary for
// a user is decided by the replica set, not by the server.
type Server struct {
	store    *store.Store
	syncer   *Syncer
	router   *mux.Router
	logger   *slog.Logger
	pageSize int
	pulls    chan struct{}
	wallets  *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithExportPageSize caps records per export response.
func WithExportPageSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMaxPulls bounds how many background pulls run at once.
// Zero or less means unbounded.
func WithMaxPulls(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.pulls = make(chan struct{}, n)
		}
	}
}

// WithServerLogger sets the logger. Defaults to slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the server. Background pulls run until Close.
func NewServer(st *store.Store, syncer *Syncer, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:    st,
		syncer:   syncer,
		router:   mux.NewRouter(),
		logger:   slog.Default(),
		pageSize: DefaultExportPageSize,
		wallets:  cache.New(walletTTL, walletTTL),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	s.router.HandleFunc("/users/clock_status/{wallet}", s.handleClockStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until every background pull started so far has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels background pulls and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if len(req.Wallet) == 0 {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	for _, wallet := range req.Wallet {
		if wallet == "" {
			writeError(w, http.StatusBadRequest, "wallet must not be empty")
			return
		}
	}
	if err := ValidateEndpoint(req.CreatorNodeEndpoint); err != nil {
		writeError(w, http.StatusBadRequest, "creator_node_endpoint: "+err.Error())
		return
	}

	// Non-immediate requests take the same path; there is no separate queue.
	for _, wallet := range req.Wallet {
		s.pull(wallet, req.CreatorNodeEndpoint)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(req.Wallet)})
}

func (s *Server) pull(wallet, primary string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.pulls != nil {
			select {
			case s.pulls <- struct{}{}:
				defer func() { <-s.pulls }()
			case <-s.ctx.Done():
				return
			}
		}
		_, err := s.syncer.Sync(s.ctx, wallet, primary)
		switch {
		case errors.Is(err, ErrSyncInProgress):
			s.logger.Debug("sync already running", "wallet", wallet)
		case err != nil:
			s.logger.Warn("sync failed", "wallet", wallet, "primary", primary, "error", err)
		}
	}()
}

func (s *Server) handleClockStatus(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]
	ctx := r.Context()

	userID, err := s.userID(ctx, wallet)
	if errors.Is(err, store.ErrUserNotFound) {
		writeJSON(w, http.StatusOK, ClockStatus{ClockValue: -1})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	state, err := s.store.UserClock(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ClockStatus{ClockValue: state.MaxClock})
}

// userID resolves a wallet through the cache. Unknown wallets are not
// cached: the user may arrive with the next sync.
func (s *Server) userID(ctx context.Context, wallet string) (int64, error) {
	if id, ok := s.wallets.Get(wallet); ok {
		return id.(int64), nil
	}
	id, err := s.store.UserByWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}
	s.wallets.SetDefault(wallet, id)
	return id, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet := q.Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	minClock := int64(1)
	if v := q.Get("clock_range_min"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "clock_range_min must be a non-negative integer")
			return
		}
		minClock = n
	}

	exp, err := s.store.ExportSince(r.Context(), wallet, minClock, s.pageSize)
	if errors.Is(err, store.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "unknown wallet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
