package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/wowcore/internal/config"
	"github.com/udisondev/wowcore/internal/crypto"
	"github.com/udisondev/wowcore/internal/db"
	"github.com/udisondev/wowcore/internal/login"
	"github.com/udisondev/wowcore/internal/model"
	"github.com/udisondev/wowcore/internal/spark"
)

const configPath = "config/loginserver.yaml"

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

	slog.Info("login server starting")

	cfgPath := configPath
	if p := os.Getenv("WOWCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadLoginServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	slog.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port, "srp6_mode", cfg.SRP6Mode)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	users := db.NewUserRepository(database)
	patchRepo := db.NewPatchRepository(database)
	realmRepo := db.NewRealmRepository(database)
	ipBanRepo := db.NewIPBanRepository(database)

	ipBanRows, err := ipBanRepo.All(ctx)
	if err != nil {
		return fmt.Errorf("loading ip ban list: %w", err)
	}
	ipBans := model.NewIPBanList(ipBanRows)
	slog.Info("ip ban list loaded", "count", len(ipBanRows))

	catalogue, err := realmRepo.All(ctx)
	if err != nil {
		return fmt.Errorf("loading realm catalogue: %w", err)
	}
	// realms is both the RealmStore login.Handler serves REQUEST_REALMS
	// from and the RealmService a realm process's "realm-status" channel
	// publishes against (§2, §3) — each entry starts offline until its
	// owning process publishes.
	realms := spark.NewFakeRealmService(catalogue)
	slog.Info("realm catalogue loaded", "count", len(catalogue))

	patches, err := patchRepo.All(ctx)
	if err != nil {
		return fmt.Errorf("loading patch table: %w", err)
	}
	graph := model.NewPatchGraph(patches)
	slog.Info("patch graph loaded", "count", len(patches))

	var integrity *crypto.IntegrityVerifier
	if cfg.IntegrityBlobDir != "" {
		blobs, err := crypto.LoadBlobDir(cfg.IntegrityBlobDir)
		if err != nil {
			return fmt.Errorf("loading integrity blobs: %w", err)
		}
		integrity = crypto.NewIntegrityVerifier(blobs)
		slog.Info("integrity verifier loaded", "blobs", len(blobs))
	} else {
		slog.Warn("integrity verifier disabled (no integrity_blob_dir configured)")
	}

	survey, err := login.LoadSurveyAsset(cfg.SurveyFilePath)
	if err != nil {
		return fmt.Errorf("loading survey asset: %w", err)
	}
	if survey != nil {
		slog.Info("survey asset loaded", "filename", survey.Filename, "bytes", len(survey.Content))
	}

	// No Spark client dial yet (§2's account/character services are
	// modeled only via their RPC contracts) — the in-memory fake stands
	// in as the session registry until a real Spark-backed Account
	// service process exists to dial.
	accounts := spark.NewFakeAccountService()

	handler := login.NewHandler(cfg, users, patchRepo, graph, realms, accounts, ipBans, integrity, survey)
	server := login.NewServer(cfg, handler)

	rpc := spark.NewRPCServer("loginserver/1.0")
	rpc.Register("realm-status", spark.RealmChannelHandlerFactory(realms))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.SparkListenHost, cfg.SparkListenPort)
		return rpc.Run(gctx, addr)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("running login server: %w", err)
	}

	return nil
}
