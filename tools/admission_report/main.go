// Admission Report Tool summarises recent admission-control activity.
//
// It reads the admission_events table in ClickHouse and prints daily denial
// counts, the identities denied most often and a per-endpoint breakdown.
//
// Usage:
//
//	go run ./tools/admission_report -days=7 -top=10
//
// Configuration:
//
//	-days: Number of days to include (default: 7)
//	-top: Number of identities to list (default: 10)
//	-json: Print the summary as JSON instead of tables
//	-clickhouse-dsn: ClickHouse connection string (default: CLICKHOUSE_DSN or tcp://localhost:9000)
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/imghost/abuseguard/internal/reporting"
)

func main() {
	var (
		days    = flag.Int("days", 7, "Number of days to include in report")
		top     = flag.Int("top", 10, "Number of identities to list")
		asJSON  = flag.Bool("json", false, "Print the report as JSON")
		dsn     = flag.String("clickhouse-dsn", getEnv("CLICKHOUSE_DSN", "tcp://localhost:9000"), "ClickHouse DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "Query timeout")
	)
	flag.Parse()

	if *days <= 0 {
		fmt.Fprintf(os.Stderr, "Error: days must be positive\n")
		flag.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("clickhouse", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging ClickHouse: %v\n", err)
		os.Exit(1)
	}

	summary, err := reporting.GenerateAdmissionReport(ctx, db, *days, *top)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printAdmissionReport(summary)
}

const rule = "───────────────────────────────────────────────────────────────────────────────────\n"

func printAdmissionReport(s *reporting.Summary) {
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("                              ADMISSION CONTROL REPORT                              \n")
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("Report Period: %d days (ending %s)\n", s.Days, time.Now().Format("2006-01-02"))
	fmt.Printf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	t := s.Total
	fmt.Printf("OVERALL\n")
	fmt.Print(rule)
	fmt.Printf("Denied requests:    %s\n", formatNumber(t.Denials()))
	fmt.Printf("  rate limited:     %s\n", formatNumber(t.RateLimited))
	fmt.Printf("  locked out:       %s\n", formatNumber(t.LockedOut))
	fmt.Printf("  suspended:        %s\n", formatNumber(t.Suspended))
	fmt.Printf("  uploads blocked:  %s\n", formatNumber(t.UploadBlocked))
	fmt.Printf("Auth failures:      %s\n", formatNumber(t.AuthFailures))
	fmt.Printf("Uploads flagged:    %s\n", formatNumber(t.UploadFlagged))
	fmt.Printf("Pattern alerts:     %s\n", formatNumber(t.PatternAlerts))
	fmt.Printf("Bot share:          %.2f%%\n\n", t.BotShare)

	if len(s.Daily) > 0 {
		fmt.Printf("DAILY BREAKDOWN\n")
		fmt.Print(rule)
		fmt.Printf("Date       | Limited | Locked | Suspended | Blocked | Flagged | Auth fail | Bots\n")
		fmt.Printf("-----------|---------|--------|-----------|---------|---------|-----------|-------\n")
		for _, d := range s.Daily {
			fmt.Printf("%-10s | %7s | %6s | %9s | %7s | %7s | %9s | %5.1f%%\n",
				d.Date.Format("2006-01-02"),
				formatNumber(d.RateLimited),
				formatNumber(d.LockedOut),
				formatNumber(d.Suspended),
				formatNumber(d.UploadBlocked),
				formatNumber(d.UploadFlagged),
				formatNumber(d.AuthFailures),
				d.BotShare,
			)
		}
		fmt.Printf("\n")
	}

	if len(s.TopIdentities) > 0 {
		fmt.Printf("MOST DENIED IDENTITIES\n")
		fmt.Print(rule)
		for _, id := range s.TopIdentities {
			fmt.Printf("%-40s %8s denials %5s lockouts  last %s\n",
				id.Identity, formatNumber(id.Denials), formatNumber(id.Lockouts), id.LastSeen.Format(time.RFC3339))
		}
		fmt.Printf("\n")
	}

	if len(s.Endpoints) > 0 {
		fmt.Printf("ENDPOINTS\n")
		fmt.Print(rule)
		for _, e := range s.Endpoints {
			fmt.Printf("%-30s %8s denials (%s rate limited)\n", e.Endpoint, formatNumber(e.Denials), formatNumber(e.RateLimited))
		}
		fmt.Printf("\n")
	}
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
}

// formatNumber formats integers with comma separators, e.g. 1234567 becomes "1,234,567".
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
