package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"valchi/config"
	"valchi/crypto"
	nativecommon "valchi/native/common"
	"valchi/native/conversion"
	"valchi/native/deal"
	"valchi/native/identity"
	"valchi/native/pool"
	"valchi/native/registry"
	"valchi/native/router"
	"valchi/observability"
	"valchi/observability/logging"
	"valchi/state"
	"valchi/storage"
)

func main() {
	var (
		configPath = flag.String("config", "valchi.toml", "path to the TOML configuration file")
		listenAddr = flag.String("listen", "", "override the configured listen address")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := logging.Setup("valchid", *logLevel)
	if err := run(logger, *configPath, *listenAddr); err != nil {
		logger.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, listenOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.ListenAddress = listenOverride
	}

	admin, err := resolveAddress(logger, "admin", cfg.Admin)
	if err != nil {
		return err
	}
	issuer := admin
	if cfg.Identity.Issuer != "" {
		issuer, err = crypto.DecodeAddress(cfg.Identity.Issuer)
		if err != nil {
			return fmt.Errorf("identity issuer: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}
	defer db.Close()
	ledger := state.NewLedger(db)

	manager, err := registry.NewManager(admin, registry.Params{
		Leverage:               cfg.Protocol.Leverage,
		UnderwriterFeeBps:      cfg.Protocol.UnderwriterFeeBps,
		PerformanceFeeBps:      cfg.Protocol.PerformanceFeeBps,
		DefaultReserveRatioBps: cfg.Protocol.ReserveRatioBps,
	})
	if err != nil {
		return err
	}

	identityRegistry := identity.NewRegistry(issuer)
	identityRegistry.SetState(ledger)

	factory := deal.NewFactory(manager)
	factory.SetState(ledger)

	dealVault, err := vaultAddress("deal vault")
	if err != nil {
		return err
	}
	dealEngine := deal.NewEngine(dealVault)
	dealEngine.SetState(ledger)
	dealEngine.SetGracePeriod(cfg.Protocol.GraceDays)

	poolVault, err := vaultAddress("pool vault")
	if err != nil {
		return err
	}
	poolEngine := pool.NewEngine(poolVault, manager.Snapshot().Params())
	poolEngine.SetState(ledger)
	poolEngine.SetDealView(dealEngine)
	poolEngine.SetSeniorMinter(dealEngine)
	poolEngine.SetFeeAuthority(admin)

	conversionEngine, err := conversion.NewEngine(cfg.Conversion.CycleLengthDays, cfg.Conversion.TotalDurationDays)
	if err != nil {
		return err
	}
	conversionEngine.SetState(ledger)
	poolEngine.SetFlowGuard(conversionEngine)

	investorsRouter := router.NewRouter(identityRegistry)
	investorsRouter.SetState(ledger)
	investorsRouter.SetDealEngine(dealEngine)
	if err := investorsRouter.SetLiquidityPool(poolEngine); err != nil {
		return err
	}

	pauses := nativecommon.NewPauseSet(cfg.Paused)
	identityRegistry.SetPauses(pauses)
	dealEngine.SetPauses(pauses)
	poolEngine.SetPauses(pauses)
	conversionEngine.SetPauses(pauses)
	investorsRouter.SetPauses(pauses)
	if len(pauses) > 0 {
		logger.Warn("modules paused by configuration", "modules", cfg.Paused)
	}

	if err := manager.SetRole(admin, registry.RoleIdentity, issuer); err != nil {
		return err
	}
	if err := manager.SetRole(admin, registry.RoleLiquidityPool, poolVault); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.New(promRegistry)

	emitter := newMetricsEmitter(logger, metrics)
	identityRegistry.SetEmitter(emitter)
	factory.SetEmitter(emitter)
	dealEngine.SetEmitter(emitter)
	poolEngine.SetEmitter(emitter)
	conversionEngine.SetEmitter(emitter)
	investorsRouter.SetEmitter(emitter)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           newAPI(manager, factory, dealEngine, poolEngine, conversionEngine, metrics, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// resolveAddress decodes a configured bech32 address, generating an ephemeral
// key when the value is empty so a fresh node can start without ceremony.
func resolveAddress(logger *slog.Logger, label, encoded string) (crypto.Address, error) {
	if encoded != "" {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return crypto.Address{}, fmt.Errorf("%s address: %w", label, err)
		}
		return addr, nil
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	addr := key.PubKey().Address()
	logger.Warn("no address configured, generated ephemeral key", "role", label, "address", addr.String())
	return addr, nil
}

func vaultAddress(label string) (crypto.Address, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", label, err)
	}
	return crypto.NewAddress(crypto.VaultPrefix, key.PubKey().Address().Bytes()), nil
}
