// Command party joins a relay session and runs a transport check ceremony: every
// party greets each peer through the encrypted message channel, waits to hear back
// from all of them, then reports completion.
//
// Usage:
//
//	go run ./cmd/party --config=party.yaml
//	go run ./cmd/party --server=http://localhost:8080 --session=s1 --party=alice --key=<hex>
package main

import (
	"context"
	"errors"
	"flag"
	"mpc_session/internal/config"
	"mpc_session/internal/model"
	"mpc_session/internal/repository/vault"
	"mpc_session/internal/service/relay"
	"mpc_session/internal/tss"
	"mpc_session/internal/utils/log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		serverURL  = flag.String("server", "", "Relay URL")
		sessionID  = flag.String("session", "", "Session ID")
		partyID    = flag.String("party", "", "Local party ID")
		keyHex     = flag.String("key", "", "Hex session encryption key")
		messageID  = flag.String("message-id", "", "Keysign message ID scope")
		parties    = flag.Int("parties", 0, "Number of parties in the ceremony, local included")
		mongoURI   = flag.String("mongo", "", "Mongo URI; empty keeps the vault in memory")
		logLevel   = flag.String("log-level", "", "Log level")
	)
	flag.Parse()

	cfg := config.DefaultPartyConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadPartyConfig(*configPath)
		if err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}
	applyFlagOverrides(cfg, *serverURL, *sessionID, *partyID, *keyHex, *messageID, *mongoURI, *logLevel, *parties)
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	os.Exit(serve(context.Background(), cfg))
}

// serve runs one ceremony and returns the process exit code. An interrupt is a clean
// shutdown.
func serve(ctx context.Context, cfg *config.PartyConfig) int {
	logger, err := log.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Error("build logger", zap.Error(err))
		return 1
	}
	log.SetLogger(logger)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg)
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("ceremony interrupted", zap.String("session", cfg.SessionID))
	case err != nil:
		log.Error("ceremony failed", zap.String("session", cfg.SessionID), zap.Error(err))
		return 1
	default:
		log.Info("ceremony complete", zap.String("session", cfg.SessionID))
	}
	return 0
}

func applyFlagOverrides(cfg *config.PartyConfig, serverURL, sessionID, partyID, keyHex, messageID, mongoURI, logLevel string, parties int) {
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if sessionID != "" {
		cfg.SessionID = sessionID
	}
	if partyID != "" {
		cfg.LocalPartyID = partyID
	}
	if keyHex != "" {
		cfg.EncryptionKeyHex = keyHex
	}
	if messageID != "" {
		cfg.MessageID = messageID
	}
	if mongoURI != "" {
		cfg.Mongo.URI = mongoURI
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if parties > 0 {
		cfg.Parties = parties
	}
}

func run(ctx context.Context, cfg *config.PartyConfig) error {
	repo, closeRepo, err := newVaultRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	v, err := loadVault(ctx, repo, cfg)
	if err != nil {
		return err
	}

	client := relay.NewClient(cfg.ServerURL, &http.Client{Timeout: cfg.RequestTimeout})
	sess, err := tss.NewSession(ctx, tss.SessionConfig{
		SessionID:        cfg.SessionID,
		LocalPartyID:     cfg.LocalPartyID,
		EncryptionKeyHex: cfg.EncryptionKeyHex,
		EncryptGCM:       cfg.EncryptGCM,
		PollInterval:     cfg.PollInterval,
		SendAttempts:     cfg.SendAttempts,
		SendRetryDelay:   cfg.SendRetryDelay,
		CompleteAttempts: cfg.CompleteAttempts,
	}, client, v)
	if err != nil {
		return err
	}

	if err := sess.Join(ctx); err != nil {
		return err
	}
	log.Info("joined session", zap.String("session", cfg.SessionID), zap.String("party", cfg.LocalPartyID))

	peers, err := sess.Discovery().WaitForParticipants(ctx, cfg.Parties-1)
	if err != nil {
		return err
	}
	log.Info("all parties joined", zap.Strings("peers", peers))

	engine := newGreetingEngine(cfg.LocalPartyID, peers, sess.Messenger(), sess.LocalState())
	if err := sess.Start(ctx, engine, cfg.MessageID); err != nil {
		return err
	}
	defer sess.Stop()

	if err := engine.Greet(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	g.Go(func() error {
		// late joiners or dropped parties show up here
		for list := range sess.Discovery().Participants(watchCtx) {
			log.Debug("participants", zap.Strings("peers", list))
		}
		return nil
	})

	g.Go(func() error {
		defer stopWatch()

		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-engine.Done():
		}
		if err := sess.Stop(); err != nil {
			return err
		}
		if err := sess.MarkComplete(gctx); err != nil {
			return err
		}
		return sess.WaitAllComplete(gctx, append([]string{cfg.LocalPartyID}, peers...))
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if repo == nil {
		return nil
	}
	state := sess.LocalState().Vault()
	return repo.Upsert(ctx, &state)
}

func newVaultRepo(ctx context.Context, cfg *config.PartyConfig) (*vault.VaultRepo, func(), error) {
	if !cfg.PersistVault() {
		return nil, func() {}, nil
	}

	client, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { client.Disconnect(context.Background()) }

	repo, err := vault.NewVaultRepo(client.Database(cfg.Mongo.Database), []byte(cfg.DeviceSecret))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return repo, closeFn, nil
}

func loadVault(ctx context.Context, repo *vault.VaultRepo, cfg *config.PartyConfig) (*model.Vault, error) {
	fresh := &model.Vault{Name: cfg.VaultName, LocalPartyID: cfg.LocalPartyID}
	if repo == nil {
		return fresh, nil
	}

	v, err := repo.GetByName(ctx, cfg.VaultName)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return fresh, nil
	}
	return v, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
