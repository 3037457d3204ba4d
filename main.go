package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"finscribe/cmd"
	"finscribe/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// The root command replaces this once the configuration is loaded.
	if err := logger.Setup(logger.DefaultConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cmd.Execute()
}
