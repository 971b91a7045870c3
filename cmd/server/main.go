// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"documind-go/internal/config"
	"documind-go/internal/handler"
	"documind-go/internal/middleware"
	"documind-go/internal/model"
	"documind-go/internal/notify"
	"documind-go/internal/pipeline"
	"documind-go/internal/repository"
	"documind-go/internal/service"
	"documind-go/pkg/database"
	"documind-go/pkg/embedding"
	"documind-go/pkg/es"
	"documind-go/pkg/extract"
	"documind-go/pkg/kafka"
	"documind-go/pkg/llm"
	"documind-go/pkg/log"
	"documind-go/pkg/storage"
	"documind-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	if err := database.DB.AutoMigrate(&model.User{}, &model.Document{}, &model.Chunk{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	chunkIndexRepo := repository.NewChunkIndexRepository(es.ESClient, cfg.Elasticsearch.IndexName)
	convRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	extractor := extract.NewExtractor(cfg.Extract)
	bucketStore := storage.NewBucketStore(cfg.MinIO.BucketName)
	hub := notify.NewHub()

	userService := service.NewUserService(userRepo, jwtManager)
	documentService := service.NewDocumentService(docRepo, chunkRepo, chunkIndexRepo, convRepo, bucketStore, kafka.Queue{})
	retrievalService := service.NewRetrievalService(docRepo, chunkRepo, chunkIndexRepo, embeddingClient, cfg.Retrieval)
	promptBuilder := service.NewPromptBuilder(cfg.Prompt)
	chatService := service.NewChatService(retrievalService, promptBuilder, llmClient, convRepo)

	// 6. 初始化摄取管道并启动后台 Kafka 消费者
	chunker := pipeline.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	processor := pipeline.NewProcessor(
		docRepo,
		chunkRepo,
		chunkIndexRepo,
		bucketStore,
		extractor,
		chunker,
		embeddingClient,
		hub,
	)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	authHandler := handler.NewAuthHandler(userService)
	documentHandler := handler.NewDocumentHandler(documentService, retrievalService)
	chatHandler := handler.NewChatHandler(chatService)
	wsHandler := handler.NewWSHandler(hub, jwtManager)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/profile", middleware.AuthMiddleware(jwtManager), authHandler.Profile)
		}

		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager))
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.DELETE("/:id", documentHandler.Delete)
			documents.POST("/:id/retry", documentHandler.Retry)
			documents.GET("/:id/retrieval", documentHandler.Retrieve)

			documents.POST("/:id/chat", chatHandler.Answer)
			documents.POST("/:id/chat/stream", chatHandler.StreamAnswer)
			documents.GET("/:id/chat/history", chatHandler.History)
		}
	}

	// 进度推送 WebSocket，token 经查询参数认证
	r.GET("/ws", wsHandler.Handle)

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
