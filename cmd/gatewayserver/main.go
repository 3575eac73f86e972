package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/wowcore/internal/config"
	"github.com/udisondev/wowcore/internal/db"
	"github.com/udisondev/wowcore/internal/gateway"
	"github.com/udisondev/wowcore/internal/model"
	"github.com/udisondev/wowcore/internal/spark"
)

// realmStatusInterval is how often this realm process republishes its
// status over C8 while connected (§2, §3 Realm Record).
const realmStatusInterval = 15 * time.Second

const configPath = "config/gatewayserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("gateway server starting")

	cfgPath := configPath
	if p := os.Getenv("WOWCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadGatewayServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	slog.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port, "realm", cfg.RealmName)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	users := db.NewUserRepository(database)

	// No Spark client dial yet (§2's account/character services are
	// modeled only via their RPC contracts) — the in-memory fakes stand
	// in as the session registry and character store until a real
	// Spark-backed process exists to dial.
	accounts := spark.NewFakeAccountService()
	characters := spark.NewFakeCharacterService()

	server := gateway.NewServer(cfg, users, accounts, characters)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("running gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		publishRealmStatus(gctx, cfg, server)
		return nil
	})

	return g.Wait()
}

// publishRealmStatus dials the login process's RPC fabric, opens this
// realm's "realm-status" channel, and republishes a full snapshot every
// realmStatusInterval until ctx is cancelled (§2, §3 Realm Record). The
// login side flips the realm back offline when this channel closes —
// on clean shutdown (the explicit Endpoint.Close calls below) or
// on unexpected link loss alike — so failure to dial or a connection
// drop is logged and retried rather than treated as fatal.
func publishRealmStatus(ctx context.Context, cfg config.GatewayServer, server *gateway.Server) {
	addr := fmt.Sprintf("%s:%d", cfg.SparkHost, cfg.SparkPort)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nc, err := net.Dial("tcp", addr)
		if err != nil {
			slog.Warn("spark: dialing login rpc fabric", "addr", addr, "err", err)
			if !sleepOrDone(ctx, realmStatusInterval) {
				return
			}
			continue
		}

		ep := spark.NewEndpoint(nc, 1<<16, fmt.Sprintf("gatewayserver/%s", cfg.RealmName))
		done := make(chan error, 1)
		go func() { done <- ep.Serve(ctx) }()

		ch, err := ep.OpenChannel(ctx, "realm-status", strconv.Itoa(int(cfg.RealmID)), 1, nil)
		if err != nil {
			slog.Warn("spark: opening realm-status channel", "err", err)
			ep.Close()
			<-done
			if !sleepOrDone(ctx, realmStatusInterval) {
				return
			}
			continue
		}

		runRealmStatusLoop(ctx, cfg, server, ch)
		ep.Close()
		<-done

		if !sleepOrDone(ctx, realmStatusInterval) {
			return
		}
	}
}

// runRealmStatusLoop republishes status on ch until it closes or ctx is
// cancelled.
func runRealmStatusLoop(ctx context.Context, cfg config.GatewayServer, server *gateway.Server, ch *spark.Channel) {
	ticker := time.NewTicker(realmStatusInterval)
	defer ticker.Stop()

	publish := func() bool {
		status := model.Realm{
			ID:         cfg.RealmID,
			Name:       cfg.RealmName,
			Address:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
			Port:       uint16(cfg.Port),
			Population: float32(server.ConnectedCount()),
		}
		if err := spark.PublishRealmStatus(ch, status); err != nil {
			slog.Warn("spark: publishing realm status", "err", err)
			return false
		}
		return true
	}

	if !publish() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !publish() {
				return
			}
		}
	}
}

// sleepOrDone waits d, returning false early if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
