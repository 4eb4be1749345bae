package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Bt2Deck/cache"
	"Bt2Deck/config"
	"Bt2Deck/core/audio"
	"Bt2Deck/core/auth"
	"Bt2Deck/core/dj"
	"Bt2Deck/core/render"
	"Bt2Deck/core/waveform"
	"Bt2Deck/db"
	"Bt2Deck/logger"
	"Bt2Deck/model"
	"Bt2Deck/repository"
	"Bt2Deck/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(getLogLevel()),
		OutputPath: "logs/bt2deck.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
	defer logger.Sync()

	auth.InitJWT(cfg.JWTSecret)

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 初始化 MinIO 客户端
	if err := storage.InitMinio(cfg); err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.DB.Close()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// GORM 连接与新模块迁移
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect GORM: %v", err)
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.DJSet{}); err != nil {
		log.Fatalf("Failed to migrate models: %v", err)
	}

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer cache.CloseRedis()
	log.Println("Successfully connected to Redis")

	trackRepo := repository.NewMySQLTrackRepository()
	setRepo := repository.NewGormSetRepository(db.GormDB)

	waveformProvider := waveform.NewCachedProvider(cfg.WaveformSampleRate)

	engineParams := dj.Params{
		TickHz:              cfg.EngineTickHz,
		SnapThresholdMs:     cfg.SnapThresholdMs,
		DropLeadSeconds:     cfg.DropLeadSeconds,
		BassCutGain:         cfg.BassCutGain,
		FramePublishDivisor: cfg.FramePublishDivisor,
		Render: render.Params{
			BasePixelsPerSecond: cfg.BasePixelsPerSecond,
		},
	}
	sourceFactory := audio.ClockFactory(time.Duration(cfg.PositionUpdateMs) * time.Millisecond)
	manager := dj.NewSessionManager(sourceFactory, waveformProvider, engineParams)

	// 波形导入目录监听
	watcher, err := waveform.NewWatcher(cfg.WaveformImportDir)
	if err != nil {
		log.Fatalf("Failed to start waveform watcher: %v", err)
	}
	watcher.Start()
	defer watcher.Stop()

	// 初始化处理器
	apiHandler := NewAPIHandler(trackRepo, setRepo, manager, cfg)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 曲目相关的API端点
	router.HandleFunc("/api/tracks", apiHandler.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", apiHandler.RegisterTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}", apiHandler.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", apiHandler.DeleteTrackHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id}/analysis", apiHandler.UpdateAnalysisHandler).Methods(http.MethodPut)

	// 会话相关的API端点
	router.HandleFunc("/api/sessions", apiHandler.CreateSessionHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{session_id}", apiHandler.GetSessionHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{session_id}", apiHandler.CloseSessionHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/sessions/{session_id}/token", apiHandler.SessionTokenHandler).Methods(http.MethodPost)

	// 保存的DJ组合
	router.HandleFunc("/api/sets", apiHandler.GetSetsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sets", apiHandler.CreateSetHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/sets/{id}", apiHandler.GetSetHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/sets/{id}", apiHandler.DeleteSetHandler).Methods(http.MethodDelete)

	// 控制台WebSocket
	router.HandleFunc("/ws/console/{session_id}", apiHandler.ConsoleHandler)

	// 音频与波形对象由MinIO服务
	router.PathPrefix("/audio/").HandlerFunc(apiHandler.AudioObjectHandler)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		log.Printf("Server starting on %s...", cfg.ListenAddr)
		log.Println("Create sessions via POST to /api/sessions")
		log.Println("Control a session via /ws/console/{session_id}")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号
	<-stop
	log.Println("Shutting down server...")

	// 先销毁所有DJ会话，停掉渲染循环与播放源
	manager.CloseAll()

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func getLogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}
