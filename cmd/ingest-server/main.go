package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/app"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment")
	}

	if err := app.Run(); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}
