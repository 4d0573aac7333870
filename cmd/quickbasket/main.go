package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/MrSnakeDoc/quickbasket/internal/app"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ quickbasket failed to start: %v", err)
	}
}
