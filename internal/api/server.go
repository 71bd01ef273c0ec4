// Package api is the relayer's control surface: the HTTP endpoint table
// that validates, delegates to the core components, and returns a result
// or an error envelope. No business logic lives here.
package api

import (
	"crypto/rand"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/events"
	"github.com/solrelay/mixer/internal/recovery"
	"github.com/solrelay/mixer/internal/registry"
	"github.com/solrelay/mixer/internal/solrpc"
	"github.com/solrelay/mixer/internal/vault"
)

// Server holds the dependencies every handler needs. It carries no cache;
// every request reads or writes through registry/vault/recoveryLedger.
type Server struct {
	registry       registry.Registry
	vault          *vault.Vault
	rpc            solrpc.Client
	recoveryLedger *recovery.Ledger
	clock          clock.Clock
	logger         *zap.Logger
	bus            *events.Bus

	network     string
	profileName string
}

// Option configures a Server at construction.
type Option func(*Server)

func WithEventBus(bus *events.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

func WithProfileName(name string) Option {
	return func(s *Server) { s.profileName = name }
}

func NewServer(reg registry.Registry, v *vault.Vault, rpcClient solrpc.Client, ledger *recovery.Ledger, clk clock.Clock, logger *zap.Logger, network string, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		vault:          v,
		rpc:            rpcClient,
		recoveryLedger: ledger,
		clock:          clk,
		logger:         logger.Named("api"),
		network:        network,
		profileName:    "basic",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) publish(kind events.EventType, transactionID, detail string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(events.SwapEvent{
		BaseEvent:     events.BaseEvent{EventType: kind, EventTime: s.clock.Now()},
		TransactionID: transactionID,
		Detail:        detail,
	})
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.logger), recoveryMiddleware(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/swap/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/swap/prepare", s.handlePrepare).Methods(http.MethodPost)
	r.HandleFunc("/api/swap/initiate", s.handleInitiate).Methods(http.MethodPost)
	r.HandleFunc("/api/swap/status/{id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/swap/intermediate/{walletId}", s.handleIntermediate).Methods(http.MethodGet)
	r.HandleFunc("/api/swap/recovery/{id}", s.handleRecoveryAvailability).Methods(http.MethodGet)
	r.HandleFunc("/api/swap/recovery/{id}", s.handleRecoveryConsume).Methods(http.MethodPost)
	r.HandleFunc("/api/swap/memo/{id}", s.handleMemo).Methods(http.MethodGet)

	return r
}

func cryptoRandRead(b []byte) (int, error) {
	return rand.Read(b)
}
