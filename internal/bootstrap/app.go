package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	discordhandler "voicemaster/internal/handler/discord"
	httpHandler "voicemaster/internal/handler/http"
	wsHandler "voicemaster/internal/handler/websocket"
	"voicemaster/internal/hub"
	gormpersistence "voicemaster/internal/infra/persistence/gorm"
	"voicemaster/internal/infra/setup"
	redisstate "voicemaster/internal/infra/state/redis"
	"voicemaster/internal/middleware"
	discordplatform "voicemaster/internal/platform/discord"
	"voicemaster/internal/service"
	"voicemaster/internal/tasks"
	"voicemaster/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config       *Config
	Log          *logrus.Logger
	DB           *gorm.DB
	RedisClient  *redis.Client
	AsynqClient  *asynq.Client
	WorkerServer *worker.WorkerServer
	Hub          *hub.Hub
	Session      *discordgo.Session
	HttpServer   *http.Server
}

// NewLogger 按配置创建 logger：生产环境使用 JSON，其余使用文本格式
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 包内代码使用 logrus 标准 logger，保持相同的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.WithFields(logrus.Fields{"env": cfg.AppEnv, "level": log.GetLevel().String()}).Info("Configuration loaded")

	// 3. 初始化基础设施
	db, err := setup.InitDB(setup.DBOptions{
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMembers
	session.StateEnabled = true
	log.Info("Infrastructure initialized")

	// 4. 初始化 Repositories 和平台适配器
	lobbyRepo := gormpersistence.NewGormLobbyRepository(db)
	channelRepo := gormpersistence.NewGormChannelRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	plat := discordplatform.New(session, discordhandler.PanelMessage)

	// 5. 初始化 Services
	policy := cfg.Policy()
	ownershipService := service.NewOwnershipService(channelRepo, stateRepo, plat, policy)
	controlService := service.NewControlService(ownershipService, channelRepo, stateRepo, stateRepo, plat, policy)
	lifecycleService := service.NewLifecycleService(lobbyRepo, channelRepo, stateRepo, stateRepo, plat, policy)
	lobbyService := service.NewLobbyService(lobbyRepo, plat, policy)
	sweepService := service.NewSweepService(channelRepo, stateRepo, plat, policy)
	log.WithField("burst_policy", policy.Burst).Info("Services initialized")

	// 6. Discord 事件处理
	eventHandler := discordhandler.NewHandler(lifecycleService, ownershipService, controlService, cfg.EventTimeout)
	if cfg.SweepOnStart {
		eventHandler.OnGuildReady(func(ctx context.Context, guildID string) {
			enqueueGuildSweep(ctx, asynqClient, guildID)
		})
	}
	eventHandler.OnGuildRemoved(func(ctx context.Context, guildID string) {
		if _, err := sweepService.PurgeGuild(ctx, guildID); err != nil {
			log.WithError(err).WithField("guild_id", guildID).Warn("Failed to purge rows of removed guild")
		}
	})
	eventHandler.Register(session)

	// 7. Hub 和 Worker
	hubInstance := hub.NewHub(stateRepo)
	workerServer := worker.NewWorkerServer(redisClientOpt, sweepService, cfg.SweepSchedule, cfg.WorkerConcurrency, log)

	// 8. 初始化 Gin Engine 和路由
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(cors(cfg.AllowedOrigins))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(cfg.JWTSecret)
	limit := middleware.RateLimit(stateRepo, cfg.RateLimitMax, cfg.RateLimitWindow)

	api := router.Group("/api", auth, limit)
	httpHandler.NewVoiceHandler(ownershipService, controlService).Register(api.Group("/voice"))
	httpHandler.NewAdminHandler(lobbyService, asynqClient, sweepService).
		Register(api.Group("/admin", middleware.RequireAdmin()))

	feed := wsHandler.NewWebSocketHandler(hubInstance, cfg.AllowedOrigins)
	router.GET("/ws/feed", auth, feed.HandleFeed)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info("Router setup complete")

	return &App{
		Config:       cfg,
		Log:          log,
		DB:           db,
		RedisClient:  redisClient,
		AsynqClient:  asynqClient,
		WorkerServer: workerServer,
		Hub:          hubInstance,
		Session:      session,
		HttpServer:   httpServer,
	}, nil
}

// enqueueGuildSweep 在服务器状态同步后加入一次对账任务，清理上次进程留下的空频道
func enqueueGuildSweep(ctx context.Context, client *asynq.Client, guildID string) {
	logCtx := logrus.WithField("guild_id", guildID)
	task, err := tasks.NewSweepTask(guildID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to create guild sweep task")
		return
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		logCtx.WithError(err).Warn("Failed to enqueue guild sweep task")
		return
	}
	logCtx.Debug("Guild sweep enqueued")
}

// cors 按允许列表回写 Origin；列表为空时允许所有来源
func cors(allowed []string) gin.HandlerFunc {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSpace(o)] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (len(set) == 0 || set[origin]) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start 连接 Discord 网关，并启动后台 goroutine 和 HTTP 服务器
func (a *App) Start() error {
	if err := a.Session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	a.Log.Info("Discord gateway connected")

	go a.Hub.Run()
	go a.WorkerServer.Start()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

// Shutdown 优雅地关闭应用，顺序与启动相反
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 2. 停止 Worker 和调度器
	if a.WorkerServer != nil {
		a.WorkerServer.Shutdown()
	}

	// 3. 停止 Hub，关闭所有 feed 连接
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 4. 断开 Discord 网关
	if a.Session != nil {
		if err := a.Session.Close(); err != nil {
			a.Log.Errorf("Error closing discord session: %v", err)
		}
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}
