package database

import (
	"fmt"

	"resumecast-search/internal/config"
	"resumecast-search/internal/model"
	"resumecast-search/pkg/log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPostgres 初始化 PostgreSQL 连接（需要 pgvector 扩展）
func NewPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info("PostgreSQL database connected successfully")
	return db, nil
}

// SchemaStatements 返回创建 resume_embeddings 表及其 HNSW 索引的 DDL。
// 向量维度来自配置，因此不使用 AutoMigrate。
func SchemaStatements(dimensions int, metric model.DistanceMetric) []string {
	table := model.ResumeEmbedding{}.TableName()
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	resume_id uuid NOT NULL UNIQUE,
	content_embedding vector(%d) NOT NULL,
	llm_context_embedding vector(%d),
	combined_embedding vector(%d) NOT NULL,
	embedding_model varchar(100) NOT NULL,
	content_hash varchar(32) NOT NULL,
	llm_context_hash varchar(32),
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
)`, table, dimensions, dimensions, dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_combined_hnsw ON %s USING hnsw (combined_embedding %s)`,
			table, table, metric.OpsClass()),
	}
}

// EnsureSchema 幂等地创建本服务拥有的表结构。
func EnsureSchema(db *gorm.DB, dimensions int, metric model.DistanceMetric) error {
	for _, stmt := range SchemaStatements(dimensions, metric) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	log.Infof("resume_embeddings 表结构已就绪, 维度: %d, 度量: %s", dimensions, metric)
	return nil
}
