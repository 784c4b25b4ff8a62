package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/okoshkin/checkin-bot/internal/app"
	"github.com/okoshkin/checkin-bot/internal/config"
	"github.com/okoshkin/checkin-bot/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	repo := repository.New(cfg)
	ctx := context.Background()
	if err := repo.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	application := app.New(cfg, repo)
	if err := application.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
