package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/imghost/abuseguard/internal/analytics"
	"github.com/imghost/abuseguard/internal/config"
	"github.com/imghost/abuseguard/internal/observability"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var (
		identity  string
		eventType string
		limit     int
		dsn       string
	)
	flag.StringVar(&identity, "identity", "", "identity to query (e.g. user:42, ip:203.0.113.7, alice@example.com)")
	flag.StringVar(&eventType, "type", "", "event type filter (empty for all)")
	flag.IntVar(&limit, "limit", 100, "maximum events to return")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.Parse()

	if identity == "" {
		fmt.Fprintln(os.Stderr, "identity required")
		os.Exit(1)
	}
	if dsn == "" {
		_ = godotenv.Load()
		dsn = config.Load().ClickHouseDSN
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn required (flag or CLICKHOUSE_DSN)")
		os.Exit(1)
	}

	a, err := analytics.InitClickHouse(dsn, 10, 2, 5*time.Minute, 1*time.Minute, observability.NewNoOpRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, err := a.GetEventsByIdentity(ctx, identity, eventType, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}
