package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/agriflow/internal/server"
	"github.com/dmitrijs2005/agriflow/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	if err := server.Seed(ctx, cfg); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}
