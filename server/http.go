package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// HTTPServer exposes read-only indexer status over a small HTTP API.
type HTTPServer struct {
	mu         *sync.RWMutex
	state      *core.IndexerState
	store      core.IndexerStore
	httpServer *http.Server
}

// NewHTTPServer constructs the router and HTTP server.
func NewHTTPServer(addr string, mu *sync.RWMutex, state *core.IndexerState, store core.IndexerStore) *HTTPServer {
	s := &HTTPServer{mu: mu, state: state, store: store}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/summary", s.handleSummary)
	r.Get("/best-chain", s.handleBestChain)
	r.Get("/blocks/{stateHash}", s.handleBlock)
	r.Get("/blocks/height/{height}", s.handleBlocksAtHeight)

	s.httpServer = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start serves until Shutdown.
func (s *HTTPServer) Start() error { return s.httpServer.ListenAndServe() }

// Stop closes the HTTP listener.
func (s *HTTPServer) Stop() error { return s.httpServer.Close() }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("write response: %v", err)
	}
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	summary := s.state.SummaryShort()
	s.mu.RUnlock()
	writeJSON(w, summary)
}

func (s *HTTPServer) handleBestChain(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	chain := s.state.BestChain()
	s.mu.RUnlock()
	writeJSON(w, chain)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	stateHash := chi.URLParam(r, "stateHash")
	pcb, _, err := s.store.GetBlock(core.StateHash(stateHash))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, pcb)
}

func (s *HTTPServer) handleBlocksAtHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 32)
	if err != nil {
		http.Error(w, "bad height", http.StatusBadRequest)
		return
	}
	hashes, err := s.store.BlocksAtHeight(uint32(height))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, hashes)
}
