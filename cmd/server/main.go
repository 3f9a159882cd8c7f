package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sproutmarket/internal/config"
	"sproutmarket/internal/handler"
	"sproutmarket/internal/infrastructure/cache"
	"sproutmarket/internal/infrastructure/database"
	"sproutmarket/internal/infrastructure/identity"
	"sproutmarket/internal/infrastructure/mq"
	"sproutmarket/internal/infrastructure/notify"
	"sproutmarket/internal/infrastructure/payment"
	"sproutmarket/internal/infrastructure/storage"
	"sproutmarket/internal/job"
	"sproutmarket/internal/service"
	"sproutmarket/pkg/idgen"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg := config.MustLoadConfig(*configPath)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerNodeID); err != nil {
		log.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()

	// 外部服务
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatalf("加载 AWS 配置失败: %v", err)
	}
	store := storage.NewS3StoreFromConfig(awsCfg, cfg.AWS.S3.Bucket, cfg.Server.MaxUploadMB<<20)
	provider := identity.NewCognitoProviderFromConfig(awsCfg, cfg.AWS.Cognito.ClientID)
	mailer := notify.NewSESMailerFromConfig(awsCfg, cfg.AWS.SES.FromEmail)
	pusher := notify.NewSNSPusherFromConfig(awsCfg, cfg.AWS.SNS.TopicARN)
	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	notifier := service.NewNotificationService(db, mailer, pusher, cfg)
	services := handler.Services{
		Auth:         service.NewAuthService(db, redisClient, provider, cfg),
		Account:      service.NewAccountService(db, notifier, cfg),
		Catalog:      service.NewCatalogService(db, store, cfg),
		Cart:         service.NewCartService(db),
		Checkout:     service.NewCheckoutService(db, redisClient, gateway, notifier, cfg),
		Exchange:     service.NewExchangeService(db, redisClient, gateway, store, notifier, cfg),
		Notification: notifier,
		Subscription: service.NewSubscriptionService(db, gateway, notifier, cfg),
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	premiumJob := job.NewPremiumExpiryJob(db, cfg)
	go premiumJob.Start(ctx)

	router := handler.SetupRouter(services, cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("关闭 Redis 异常: %v", err)
	}

	log.Println("服务已关闭")
}
