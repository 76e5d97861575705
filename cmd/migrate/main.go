package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/config"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/database"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set in environment")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database successfully!")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to apply schema:", err)
	}

	fmt.Println("✅ Schema applied successfully!")

	// 테이블 확인
	fmt.Println("\n📋 Matchmaker tables:")
	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name IN ('player_connections', 'game_history', 'documents')
		ORDER BY table_name`)
	if err != nil {
		log.Fatal("Failed to query tables:", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			log.Fatal("Failed to scan table name:", err)
		}
		fmt.Printf("  - %s\n", name)
	}
	if err := rows.Err(); err != nil {
		log.Fatal("Failed to read tables:", err)
	}
}
