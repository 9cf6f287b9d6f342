package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"club-membership-gateway/internal/config"
	pg "club-membership-gateway/internal/infra/db/postgres"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/usecase"
)

// seed registers a pending member so the purchase flow can be exercised by hand.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	email := flag.String("email", "member@example.com", "member email")
	name := flag.String("name", "Test Member", "display name")
	phone := flag.String("phone", "", "phone, optional")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	accounts := usecase.NewAccountUseCase(pg.NewAccountRepo(pool), logger)
	acc, err := accounts.Register(ctx, *email, *name, *phone)
	if err != nil {
		log.Fatalf("register %s: %v", *email, err)
	}

	fmt.Printf("seeded: %s (id=%s, status=%s)\n", acc.Email, acc.ID, acc.MembershipStatus)
	fmt.Printf("purchase: curl -XPOST localhost:%d/api/payments -d '{\"account_id\":\"%s\"}'\n", cfg.Server.Port, acc.ID)
}
