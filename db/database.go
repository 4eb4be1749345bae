package db

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"Bt2Deck/config"

	_ "github.com/go-sql-driver/mysql"
)

// DB 是全局数据库连接实例
var DB *sql.DB

// ConnectDB 建立数据库连接
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	DB.SetMaxIdleConns(10)
	DB.SetMaxOpenConns(100)
	DB.SetConnMaxLifetime(time.Hour)

	if err = DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB 初始化数据库表结构
func InitDB() error {
	if DB == nil {
		return fmt.Errorf("database not connected")
	}

	// 曲目表：分析字段可为空，分析未完成的曲目照常可播但不能参与同步
	createTracksTable := `
	CREATE TABLE IF NOT EXISTS tracks (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		artist VARCHAR(255) NOT NULL DEFAULT '',
		duration_ms DOUBLE NOT NULL DEFAULT 0,
		audio_path VARCHAR(512) NOT NULL DEFAULT '',
		waveform_path VARCHAR(512) NOT NULL DEFAULT '',
		bpm DOUBLE NULL,
		bpm_confidence DOUBLE NOT NULL DEFAULT 0,
		beat_offset_ms DOUBLE NOT NULL DEFAULT 0,
		music_key VARCHAR(16) NULL,
		key_confidence DOUBLE NOT NULL DEFAULT 0,
		highlight_time_ms DOUBLE NULL,
		energy DOUBLE NOT NULL DEFAULT 0,
		danceability DOUBLE NOT NULL DEFAULT 0,
		analysis_status VARCHAR(32) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

	if _, err := DB.Exec(createTracksTable); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}

	log.Println("Database schema initialized.")
	return nil
}
