package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/trinck-api/internal/application/cleanup"
	"github.com/trinck-api/internal/application/delivery"
	"github.com/trinck-api/internal/application/heartbeat"
	"github.com/trinck-api/internal/application/identity"
	"github.com/trinck-api/internal/application/session"
	"github.com/trinck-api/internal/application/verification"
	"github.com/trinck-api/internal/config"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/dynamo"
	"github.com/trinck-api/internal/infrastructure/google"
	jwtinfra "github.com/trinck-api/internal/infrastructure/jwt"
	"github.com/trinck-api/internal/infrastructure/memory"
	"github.com/trinck-api/internal/infrastructure/metrics"
	redisinfra "github.com/trinck-api/internal/infrastructure/redis"
	s3infra "github.com/trinck-api/internal/infrastructure/s3"
	"github.com/trinck-api/internal/infrastructure/smtp"
	"github.com/trinck-api/internal/infrastructure/sns"
	"github.com/trinck-api/internal/infrastructure/whatsapp"
	transporthttp "github.com/trinck-api/internal/transport/http"
	appmiddleware "github.com/trinck-api/internal/transport/http/middleware"
)

type auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

type stores struct {
	verifications verification.Store
	sessions      session.Store
	identities    identity.Store
	heartbeats    heartbeat.Store
	limiter       verification.Limiter
	// pruneLimiter is set for the in-process limiter only.
	pruneLimiter func() int
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStores := buildStores(ctx, cfg)
	defer closeStores()

	reg := metrics.NewRegistry()

	// JWT provider (optional: validations succeed without an attestation token).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	var audit auditor
	if cfg.AuditBucket != "" {
		audit = s3infra.NewAuditArchive(s3infra.NewClient(cfg), cfg.AuditBucket)
	}

	mailer := smtp.NewMailer(cfg)
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	phoneChain := delivery.NewChain(cfg.Verification.ChannelTimeout, reg,
		delivery.NewBusinessAPI(whatsapp.NewClient(cfg)),
		delivery.WebLink{},
		delivery.NewSMS(smsSender),
		delivery.NewCarrierGateway(mailer),
		delivery.NewFallbackEmail(mailer),
	)
	emailChain := delivery.NewChain(cfg.Verification.ChannelTimeout, reg, delivery.NewEmail(mailer))
	log.Printf("phone channels: %v", phoneChain.Channels())

	identityDeps := identity.ServiceDeps{
		Store:          st.identities,
		GoogleVerifier: google.NewVerifier(cfg.GoogleClientID),
	}
	verificationDeps := verification.ServiceDeps{
		Store:       st.verifications,
		Limiter:     st.limiter,
		PhoneChain:  phoneChain,
		EmailChain:  emailChain,
		TTL:         cfg.Verification.CodeTTL,
		MaxAttempts: cfg.Verification.MaxAttempts,
		ExposeCodes: cfg.Verification.ExposeCodes,
		Production:  cfg.IsProduction(),
		Auditor:     audit,
		Observer:    reg,
	}
	if jwtProvider != nil {
		identityDeps.TokenVerifier = jwtProvider
		verificationDeps.Signer = jwtProvider
	}
	identitySvc := identity.NewService(identityDeps)
	verificationDeps.Listeners = []verification.Listener{identitySvc}
	verificationSvc := verification.NewService(verificationDeps)

	sessionSvc := session.NewService(session.ServiceDeps{
		Store:             st.sessions,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		Auditor:           audit,
		Observer:          reg,
	})
	heartbeatSvc := heartbeat.NewService(heartbeat.ServiceDeps{
		Store:          st.heartbeats,
		LivenessWindow: cfg.Heartbeat.LivenessWindow,
		EvictionWindow: cfg.Heartbeat.EvictionWindow,
	})

	// 5 requests/second, burst of 10 per client IP on public send/login endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	tasks := []cleanup.Task{
		{Name: "verifications", Interval: cfg.Verification.SweepInterval, Run: verificationSvc.Sweep},
		{Name: "sessions", Interval: cfg.Session.SweepInterval, Run: sessionSvc.Sweep},
		{Name: "heartbeats", Interval: cfg.Heartbeat.SweepInterval, Run: heartbeatSvc.Sweep},
		{Name: "ip-limiter", Interval: 5 * time.Minute, Run: func(ctx context.Context) (int, error) {
			return sensitiveRL.Prune(ctx, 10*time.Minute), nil
		}},
	}
	if st.pruneLimiter != nil {
		tasks = append(tasks, cleanup.Task{Name: "send-limiter", Interval: cfg.Verification.SendWindow, Run: func(context.Context) (int, error) {
			return st.pruneLimiter(), nil
		}})
	}
	worker := cleanup.NewWorker(reg, tasks...)

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Verifications:    verificationSvc,
		Sessions:         sessionSvc,
		Heartbeats:       heartbeatSvc,
		Identities:       identitySvc,
		Metrics:          reg,
		SensitiveLimiter: sensitiveRL,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on :%s (env=%s, store=%s)", cfg.AppPort, cfg.AppEnv, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("Server stopped")
}

// buildStores selects the verification, session and identity backend from
// cfg.StoreBackend and uses Redis for heartbeats and send limits when configured.
func buildStores(ctx context.Context, cfg *config.Config) (stores, func()) {
	var st stores
	closers := []func(){}

	switch cfg.StoreBackend {
	case "dynamo":
		client := dynamo.NewClient(cfg)
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		st.verifications = dynamo.NewVerificationRepo(client, cfg.DynamoTables.Verifications)
		st.sessions = dynamo.NewSessionRepo(client, cfg.DynamoTables.Sessions)
		st.identities = dynamo.NewIdentityRepo(client, cfg.DynamoTables.Identities)
	case "memory", "":
		st.verifications = memory.NewVerificationStore()
		st.sessions = memory.NewSessionStore()
		st.identities = memory.NewIdentityStore()
	default:
		log.Fatalf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	policy := memory.SendPolicy{
		Cooldown:     cfg.Verification.SendCooldown,
		Window:       cfg.Verification.SendWindow,
		MaxPerWindow: cfg.Verification.SendMaxPerWindow,
	}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		c, err := redisinfra.NewClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("WARN: Redis not available, using in-process heartbeats and limiter: %v", err)
		} else {
			rdb = c
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}
	if rdb != nil {
		st.heartbeats = redisinfra.NewHeartbeatStore(rdb)
		st.limiter = redisinfra.NewSendLimiter(rdb, policy)
	} else {
		st.heartbeats = memory.NewHeartbeatStore()
		lim := memory.NewSendLimiter(policy)
		st.limiter = lim
		st.pruneLimiter = lim.Prune
	}

	return st, func() {
		for _, c := range closers {
			c()
		}
	}
}
