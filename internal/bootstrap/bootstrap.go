// Package bootstrap 负责按配置组装各层依赖，供 server 与 embedctl 共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"resumecast-search/internal/config"
	"resumecast-search/internal/model"
	"resumecast-search/internal/pipeline"
	"resumecast-search/internal/repository"
	"resumecast-search/internal/service"
	"resumecast-search/pkg/database"
	"resumecast-search/pkg/embedding"
	"resumecast-search/pkg/es"
	"resumecast-search/pkg/kafka"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/token"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// App 持有一个进程内的全部依赖。
type App struct {
	Config        *config.Config
	DB            *gorm.DB
	Redis         *redis.Client
	Producer      *kafka.Producer
	JWT           *token.JWTManager
	QueueService  service.EmbeddingQueueService
	SearchService service.SearchService
}

// New 连接 Postgres、Redis、Kafka（以及可选的 Elasticsearch），并构建全部服务。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	metric := model.DistanceMetric(cfg.VectorStore.Distance)

	db, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Postgres.AutoMigrate {
		if err := database.EnsureSchema(db, cfg.Embedding.Dimensions, metric); err != nil {
			return nil, err
		}
	}

	rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(cfg, db)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	producer := kafka.NewProducer(cfg.Kafka)

	resumeRepo := repository.NewResumeRepository(db)
	jobRepo := repository.NewJobRepository(rdb, cfg.Queue.KeyPrefix)

	// worker 与 search 使用各自的限流器
	indexingClient := embedding.NewClient(cfg.Embedding, embedding.ClassIndexing)
	queryClient := embedding.NewClient(cfg.Embedding, embedding.ClassQuery)

	processor := pipeline.NewProcessor(indexingClient, cfg.Embedding, resumeRepo, store)

	app := &App{
		Config:        cfg,
		DB:            db,
		Redis:         rdb,
		Producer:      producer,
		JWT:           token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours),
		QueueService:  service.NewEmbeddingQueueService(cfg.Queue, jobRepo, resumeRepo, producer, processor),
		SearchService: service.NewSearchService(cfg.Search, metric, queryClient, store, resumeRepo),
	}
	log.Infof("[Bootstrap] 依赖初始化完成, vector_store: %s, distance: %s, model: %s", cfg.VectorStore.Backend, metric, cfg.Embedding.Model)
	return app, nil
}

// NewQueueClient 只连接 Redis 与 Kafka，用于入队和查询任务的运维命令。
// 返回的服务不能处理任务，也不会校验简历归属。
func NewQueueClient(ctx context.Context, cfg *config.Config) (*App, error) {
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	producer := kafka.NewProducer(cfg.Kafka)
	jobRepo := repository.NewJobRepository(rdb, cfg.Queue.KeyPrefix)

	return &App{
		Config:       cfg,
		Redis:        rdb,
		Producer:     producer,
		QueueService: service.NewEmbeddingQueueService(cfg.Queue, jobRepo, nil, producer, nil),
	}, nil
}

func newVectorStore(cfg *config.Config, db *gorm.DB) (repository.EmbeddingRepository, error) {
	switch cfg.VectorStore.Backend {
	case config.BackendElasticsearch:
		client, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
		}
		return repository.NewESEmbeddingRepository(client, cfg.Elasticsearch.IndexName), nil
	case config.BackendPostgres:
		return repository.NewEmbeddingRepository(db), nil
	}
	return nil, fmt.Errorf("未知的向量存储后端: %q", cfg.VectorStore.Backend)
}

// RunWorker 启动 Kafka 消费者与延迟任务调度器，阻塞直到 ctx 取消或消费者出错。
func (a *App) RunWorker(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kafka.StartConsumers(ctx, a.Config.Kafka, a.Config.Worker.Concurrency, a.QueueService)
	})
	g.Go(func() error {
		a.QueueService.RunScheduler(ctx)
		return nil
	})
	log.Infof("[EmbeddingWorker] worker 已启动, 并发数: %d, topic: %s", a.Config.Worker.Concurrency, a.Config.Kafka.Topic)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 释放所有外部连接。
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			log.Warnf("[Bootstrap] 关闭 Kafka producer 失败: %v", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warnf("[Bootstrap] 关闭 Redis 失败: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
