package main

import (
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/cli"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	cli.Execute()
}
