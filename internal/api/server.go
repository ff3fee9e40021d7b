package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stacklend/internal/state"
	"stacklend/internal/sui"
)

// PositionReader looks up a borrower's registry entry on Sui.
type PositionReader interface {
	GetPosition(ctx context.Context, address string) (*sui.Position, error)
}

// SuiUnlocker releases registered collateral on the Sui side.
type SuiUnlocker interface {
	UnlockCollateral(ctx context.Context, borrower string, amount uint64) (string, error)
}

// StacksUnlocker returns locked STX to the user on the Stacks side.
type StacksUnlocker interface {
	Unlock(ctx context.Context, user string, amount uint64) (string, error)
}

// Refresher re-scans the contract's recent history on demand.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

type Config struct {
	Port        int
	CORSOrigins []string
}

// Server exposes the relayer over HTTP: position lookups, user-initiated
// withdrawals, registration status checks, and operational endpoints.
type Server struct {
	cfg            Config
	store          state.Store
	positions      PositionReader
	suiUnlocker    SuiUnlocker
	stacksUnlocker StacksUnlocker
	refresher      Refresher
	gatherer       prometheus.Gatherer
	registrations  *registrationCache
	logger         *zap.Logger

	server *http.Server
}

func NewServer(
	cfg Config,
	store state.Store,
	positions PositionReader,
	suiUnlocker SuiUnlocker,
	stacksUnlocker StacksUnlocker,
	refresher Refresher,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		cfg:            cfg,
		store:          store,
		positions:      positions,
		suiUnlocker:    suiUnlocker,
		stacksUnlocker: stacksUnlocker,
		refresher:      refresher,
		gatherer:       gatherer,
		registrations:  newRegistrationCache(registrationTTL),
		logger:         logger,
	}
}

// NotifyRegistration records a relayed deposit in the status cache. Wired
// as the relayer's RegistrationNotifier.
func (s *Server) NotifyRegistration(stacksAddress, suiAddress string, amount uint64, suiTxDigest string) {
	s.registrations.Mark(stacksAddress, suiAddress, amount, suiTxDigest)
	s.logger.Info("registration cached for status checks",
		zap.String("stacks_address", stacksAddress),
		zap.String("sui_digest", suiTxDigest),
	)
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/position/{address}", s.handlePosition).Methods(http.MethodGet)
	router.HandleFunc("/api/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	router.HandleFunc("/api/collateral-status/{stacksAddress}", s.handleCollateralStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/lookup/{stacksAddress}", s.handleLookup).Methods(http.MethodGet)
	router.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/api/indexer/refresh", s.handleRefresh).Methods(http.MethodPost)

	if s.gatherer != nil {
		router.Handle("/metrics",
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	originsOk := handlers.AllowedOrigins(s.cfg.CORSOrigins)
	headersOk := handlers.AllowedHeaders([]string{"Content-Type", "Authorization"})
	methodsOk := handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions})

	return handlers.CORS(originsOk, headersOk, methodsOk)(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.Info("api server listening", zap.Int("port", s.cfg.Port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, closing", zap.Error(err))
			s.server.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
