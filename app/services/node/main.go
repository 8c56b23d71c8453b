package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/opledger/app/services/node/handlers"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/ardanlabs/opledger/foundation/blockchain/state"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/bolt"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/opledger/foundation/blockchain/worker"
	"github.com/ardanlabs/opledger/foundation/events"
	"github.com/ardanlabs/opledger/foundation/logger"
	"github.com/ardanlabs/opledger/foundation/nameservice"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			CORSOrigin      string        `conf:"default:*"`
		}
		State struct {
			StorageKind   string        `conf:"default:bolt"`
			DBPath        string        `conf:"default:zblock/ledger.db"`
			GenesisPath   string        `conf:"default:zblock/genesis.json"`
			ServerUser    string        `conf:"default:server"`
			ServerKeyPath string        `conf:"default:zblock/server.ecdsa"`
			SignersFolder string        `conf:"default:zblock/signers/"`
			Mode          string        `conf:"default:blocks"`
			ReplicateURL  string        `conf:"help:base url of the upstream v1 api, ex http://host:8080/v1/"`
			ReplicateRate time.Duration `conf:"default:1s"`
		}
		Worker struct {
			Jobs              []string      `conf:"default:blocks;replicate;compact"`
			BlockInterval     time.Duration `conf:"default:5s"`
			ReplicateInterval time.Duration `conf:"default:15s"`
			CompactInterval   time.Duration `conf:"default:1m"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "operation ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Ledger Support

	// The genesis file carries the block limits and the bootstrap operations.
	// Without a file the defaults are used.
	gen, err := genesis.Load(cfg.State.GenesisPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Infow("startup", "status", "genesis file not found, using defaults", "path", cfg.State.GenesisPath)
		gen = genesis.Default()
	case err != nil:
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	// Need to load the private key file for the server user so blocks and
	// bootstrap operations can be signed.
	privateKey, err := crypto.LoadECDSA(cfg.State.ServerKeyPath)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	// The name service provides the public keys of the trusted signers. The
	// names come from the file names in the signers folder.
	signers := make(map[string]*secp256k1.PublicKey)
	if _, err := os.Stat(cfg.State.SignersFolder); err == nil {
		ns, err := nameservice.New(cfg.State.SignersFolder)
		if err != nil {
			return fmt.Errorf("unable to load signer name service: %w", err)
		}
		signers = ns.Copy()
	}

	// Logging the signers for documentation in the logs.
	for name := range signers {
		log.Infow("startup", "status", "nameservice", "signer", name)
	}

	mode, err := state.ParseMode(cfg.State.Mode)
	if err != nil {
		return err
	}

	storage, err := openStorage(cfg.State.StorageKind, cfg.State.DBPath)
	if err != nil {
		return err
	}

	// The ledger packages accept a function of this signature to allow the
	// application to log. The viewer messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New("viewer:")
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	replicateURL := cfg.State.ReplicateURL
	if replicateURL != "" && !strings.HasSuffix(replicateURL, "/") {
		replicateURL += "/"
	}

	limit := rate.Inf
	if cfg.State.ReplicateRate > 0 {
		limit = rate.Every(cfg.State.ReplicateRate)
	}

	// The state value represents the ledger and manages the layers and the
	// storage behind them.
	st, err := state.New(state.Config{
		Storage:       storage,
		Genesis:       gen,
		ServerUser:    cfg.State.ServerUser,
		ServerKey:     signature.FromECDSA(privateKey),
		Signers:       signers,
		ReplicateURL:  replicateURL,
		ReplicateRate: limit,
		Mode:          mode,
		EvHandler:     ev,
	})
	if err != nil {
		storage.Close()
		return err
	}
	defer st.Shutdown()

	// The worker package runs the background jobs such as block creation,
	// replication and compaction. The worker will register itself with the
	// state.
	if _, err := worker.Run(st, worker.Config{
		Jobs:              cfg.Worker.Jobs,
		BlockInterval:     cfg.Worker.BlockInterval,
		ReplicateInterval: cfg.Worker.ReplicateInterval,
		CompactInterval:   cfg.Worker.CompactInterval,
	}, ev); err != nil {
		return err
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown:   shutdown,
		Log:        log,
		State:      st,
		Evts:       evts,
		CORSOrigin: cfg.Web.CORSOrigin,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 management API support")

	// Construct the mux for the management API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// openStorage constructs the storage of the kind at the path.
func openStorage(kind string, path string) (database.Storage, error) {
	switch kind {
	case "bolt":
		return bolt.New(path)
	case "disk":
		return disk.New(path)
	case "memory":
		return memory.New()
	}

	return nil, fmt.Errorf("unknown storage kind %q", kind)
}
