// Command evalctl runs one memory-efficacy eval pass and prints the
// resulting summary. It shares cmd/server's config and database wiring so
// an operator can schedule it (cron, CI) against the same database the
// server writes to.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/personal-vault/internal/config"
	"github.com/connexus-ai/personal-vault/internal/eval"
	"github.com/connexus-ai/personal-vault/internal/repository"
)

func run() error {
	pretty := flag.Bool("pretty", false, "pretty-print the summary as indented JSON")
	timeoutSec := flag.Int("timeout", 30, "seconds to allow the eval pass to run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer pool.Close()

	memories := repository.NewMemoryRepo(pool)
	runner := eval.New(memories, func() string { return uuid.NewString() })

	summary, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("eval run: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(summary)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("evalctl: %v", err)
	}
}
