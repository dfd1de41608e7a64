package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/signdesk/signdesk/handlers"
	"github.com/signdesk/signdesk/internal/agent"
	"github.com/signdesk/signdesk/internal/audit"
	"github.com/signdesk/signdesk/internal/config"
	"github.com/signdesk/signdesk/internal/database"
	"github.com/signdesk/signdesk/internal/document/handler"
	"github.com/signdesk/signdesk/internal/document/repository"
	"github.com/signdesk/signdesk/internal/document/service"
	"github.com/signdesk/signdesk/internal/oidc"
	"github.com/signdesk/signdesk/internal/signing"
	"github.com/signdesk/signdesk/internal/storage"
	"github.com/signdesk/signdesk/internal/users"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/signdesk/signdesk/pkg/metrics"
	"github.com/signdesk/signdesk/pkg/middleware"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	defer logger.Sync()
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v minio=%v agent=%s",
		cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Storage.Endpoint != "", cfg.Agent.Mode)

	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MongoDB: documents, users and the signing audit trail. Without it the
	// service keeps everything in memory.
	var (
		mongoClient *mongo.Client
		docRepo     repository.Repository = repository.NewMemoryRepo()
		userRepo    users.UserRepository  = users.NewMemoryUserRepository()
		attempts    *audit.Store          = audit.NewStore(nil)
	)
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(root, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		mongoClient = client
		defer func() { _ = client.Disconnect(context.Background()) }()
		db := client.Database(cfg.MongoDB.Database)
		docRepo = repository.NewMongoRepo(root, db.Collection("signable_documents"))
		userRepo = users.NewMongoUserRepository(db.Collection("users"))
		attempts = audit.NewStore(db.Collection("signing_attempts"))
		logger.Infof("connected to MongoDB database %s", cfg.MongoDB.Database)
	}
	userSvc := users.NewService(userRepo)
	docSvc := service.New(docRepo, userSvc)

	// Redis: signing sessions, attempt locks and the shared rate limiter.
	var (
		redisClient *redis.Client
		sessions    signing.SessionStore = signing.NewMemoryStore(cfg.Signing.SessionTTL)
		locks       signing.Locker       = signing.NewMemoryLocker()
	)
	if addr := cfg.RedisAddr(); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pctx, cancel := context.WithTimeout(root, 5*time.Second)
		err := redisClient.Ping(pctx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("failed to connect to Redis %s: %v", addr, err)
		}
		defer func() { _ = redisClient.Close() }()
		sessions = signing.NewRedisStore(redisClient, "", cfg.Signing.SessionTTL)
		locks = signing.NewRedisLocker(redisClient, "")
		logger.Infof("using Redis %s for signing sessions and locks", addr)
	}

	// MinIO: original and signed artifacts.
	var files storage.FileStore = storage.NewMemoryStore()
	var minioStore *storage.MinIOStorage
	if cfg.Storage.Endpoint != "" {
		minioStore, err = storage.NewMinIOStorage(root, storage.MinIOConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
		if err != nil {
			logger.Fatalf("failed to initialize MinIO storage: %v", err)
		}
		files = minioStore
		logger.Infof("using MinIO bucket %s at %s", cfg.Storage.Bucket, cfg.Storage.Endpoint)
	} else {
		logger.Warnf("MINIO_ENDPOINT is not set; artifacts are kept in memory")
	}

	var provider agent.Provider
	switch cfg.Agent.Mode {
	case "simulated":
		provider = agent.SimulatedProvider(cfg.Agent.SimulatedLatency)
		logger.Warnf("signing agent is simulated; signatures are not real")
	default:
		provider = &agent.WSProvider{URL: cfg.Agent.URL}
		logger.Infof("signing agent at %s", cfg.Agent.URL)
	}
	agentClient := agent.NewClient(provider, files, agent.Options{
		StepTimeout:        cfg.Agent.StepTimeout,
		InteractionTimeout: cfg.Agent.InteractionTimeout,
		MaxContentSize:     cfg.Storage.MaxUploadSize,
	})
	// attempts are not tied to the signal context so a shutdown lets them finish
	work, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	manager := signing.NewManager(work, signing.Deps{
		Documents: docSvc,
		Agent:     agentClient,
		Files:     files,
		Sessions:  sessions,
		Locks:     locks,
		Audit:     attempts,
	}, signing.Options{LockTTL: cfg.Signing.LockTTL})

	verifier := newVerifier(root, cfg)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors())
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := map[string]bool{"oidc": verifier != nil}
		deps["documents"] = docRepo.Ping(ctx) == nil
		if redisClient != nil {
			deps["redis"] = redisClient.Ping(ctx).Err() == nil
		}
		if minioStore != nil {
			deps["storage"] = minioStore.Ping(ctx) == nil
		}
		ready := true
		for _, ok := range deps {
			ready = ready && ok
		}
		body := gin.H{"deps": deps, "mongo": mongoClient != nil, "uptime": time.Since(startTime).String()}
		if !ready {
			body["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		c.JSON(http.StatusOK, body)
	})

	handlers.RegisterSwagger(r)
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if verifier != nil {
		api.Use(middleware.AuthMiddleware(verifier, userSvc))
		api.GET("/me", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user": middleware.CurrentUser(c)})
		})
		handler.New(docSvc, manager, files, cfg.Storage.MaxUploadSize).WithAttempts(attempts).Register(api)
	} else {
		logger.Warnf("API routes not registered: no token verifier configured")
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting signdesk on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-root.Done()
	logger.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := manager.Shutdown(ctx); err != nil {
		logger.Warnf("signing attempts still running at shutdown: %v", err)
		cancelWork()
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" {
		issuer := cfg.Keycloak.URL
		if cfg.Keycloak.Realm != "" {
			issuer = oidc.IssuerURL(cfg.Keycloak.URL, cfg.Keycloak.Realm)
		}
		ver, err := oidc.NewVerifier(ctx, issuer, cfg.Keycloak.ClientID)
		if err == nil {
			return ver
		}
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
	}
	if cfg.Keycloak.AllowInsecureToken {
		logger.Warnf("enabling insecure token verifier (integration mode)")
		return oidc.NewInsecureVerifier()
	}
	return nil
}

// cors is a permissive policy for the browser client in development.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
