package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fleetfinance/pkg/config"
	"github.com/mcclellann/fleetfinance/pkg/ledger"
	"github.com/mcclellann/fleetfinance/pkg/store"
	"github.com/mcclellann/fleetfinance/pkg/vehiclelookup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	lookup  *vehiclelookup.Client
	logger  *zap.Logger
	metrics *apiMetrics
	now     func() time.Time
}

func NewServer(s store.Storage, lookup *vehiclelookup.Client, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger:  ledger.NewLedger(s, logger),
		storage: s,
		lookup:  lookup,
		logger:  logger,
		metrics: newAPIMetrics(prometheus.NewRegistry()),
		now:     time.Now,
	}
}

func (s *Server) today() civil.Date {
	return civil.DateOf(s.now())
}

// Router wires every route onto a mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/contracts", s.listContractsHandler).Methods("GET")
	router.HandleFunc("/contracts", s.createContractHandler).Methods("POST")
	router.HandleFunc("/contracts/import", s.importContractsHandler).Methods("POST")
	router.HandleFunc("/contracts/{id}", s.getContractHandler).Methods("GET")
	router.HandleFunc("/contracts/{id}", s.updateContractHandler).Methods("PUT")
	router.HandleFunc("/contracts/{id}", s.deleteContractHandler).Methods("DELETE")
	router.HandleFunc("/contracts/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/contracts/{id}/statement", s.statementHandler).Methods("GET")
	router.HandleFunc("/contracts/{id}/metrics", s.contractMetricsHandler).Methods("GET")
	router.HandleFunc("/contracts/{id}/rate", s.rateChangeHandler).Methods("POST")
	router.HandleFunc("/contracts/{id}/vehicles/{registration}/quote", s.quoteHandler).Methods("GET")
	router.HandleFunc("/contracts/{id}/vehicles/{registration}/settle", s.settleHandler).Methods("POST")
	router.HandleFunc("/vehicles/{registration}", s.findVehicleHandler).Methods("GET")
	router.HandleFunc("/vehicles/{registration}/lookup", s.lookupVehicleHandler).Methods("GET")
	router.HandleFunc("/portfolio", s.portfolioHandler).Methods("GET")
	router.HandleFunc("/reports/maturity", s.maturityHandler).Methods("GET")
	router.HandleFunc("/reports/calendar", s.calendarHandler).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")

	return router
}

// sweep closes contracts whose term has elapsed.
func (s *Server) sweep() {
	closed, err := s.ledger.CloseMaturedContracts(s.today())
	if err != nil {
		s.logger.Error("maturity sweep failed", zap.String("op", "main.sweep"), zap.Error(err))
		return
	}
	s.metrics.maturedContracts.Add(float64(closed))
	s.logger.Debug("maturity sweep complete", zap.String("op", "main.sweep"), zap.Int("closed", closed))
}

func (s *Server) runSweeper(ctx context.Context, interval time.Duration) {
	s.sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// newLookupClient builds the vehicle lookup client on Redis when configured,
// falling back to an in-process cache. The returned func releases the cache.
func newLookupClient(ctx context.Context, conf config.VehicleLookupConfig, logger *zap.Logger) (*vehiclelookup.Client, func() error) {
	var cache vehiclelookup.Cache = vehiclelookup.NewMemoryCache()
	closeCache := func() error { return nil }
	if conf.RedisAddr != "" {
		redisCache, err := vehiclelookup.NewRedisCache(ctx, conf.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, using in-process vehicle cache",
				zap.String("op", "main"), zap.String("addr", conf.RedisAddr), zap.Error(err))
		} else {
			cache = redisCache
			closeCache = redisCache.Close
		}
	}
	client := vehiclelookup.NewClient(vehiclelookup.Options{
		BaseURL:  conf.BaseURL,
		APIKey:   conf.APIKey,
		Timeout:  conf.Timeout,
		CacheTTL: conf.CacheTTL,
	}, cache, logger)
	return client, closeCache
}

func main() {
	configLocation := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	storage, err := store.Open(conf.Database.Driver, conf.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("op", "main"), zap.String("driver", conf.Database.Driver), zap.Error(err))
	}
	defer storage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lookup, closeCache := newLookupClient(ctx, conf.VehicleLookup, logger)
	defer func() {
		if err := closeCache(); err != nil {
			logger.Warn("failed to close vehicle cache", zap.String("op", "main"), zap.Error(err))
		}
	}()

	server := NewServer(storage, lookup, logger)
	if conf.Server.SweepInterval > 0 {
		go server.runSweeper(ctx, conf.Server.SweepInterval)
	}

	httpServer := &http.Server{
		Addr:              conf.Server.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", zap.String("op", "main"), zap.String("address", conf.Server.Address))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", zap.String("op", "main"), zap.Error(err))
	}
}
