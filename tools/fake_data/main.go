package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/config"
	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/logic/reports"
	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

var (
	userCount    = flag.Int("users", 50, "number of distinct fake users")
	reportCount  = flag.Int("reports", 100, "abuse reports to submit")
	reviewShare  = flag.Float64("reviewed", 0.4, "share of reports moved out of pending")
	suspendCount = flag.Int("suspensions", 5, "users to suspend")
	flagCount    = flag.Int("flags", 20, "content flags to insert")
	seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

var descriptions = []string{
	"Keeps re-uploading the same image after removal",
	"This is my photo, posted without permission",
	"Thumbnail looks like an installer",
	"Explicit content on a public album",
	"",
}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	_ = godotenv.Load()
	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	r := rand.New(rand.NewSource(*seed))

	workflow := reports.NewWorkflow(pg, nil, logger, nil)
	registry := suspension.NewRegistry(pg, 0, logger, nil)

	reasons := make([]string, len(models.DefaultReportReasons))
	for i, rr := range models.DefaultReportReasons {
		reasons[i] = rr.Code
	}

	var submitted, reviewed int
	for i := 0; i < *reportCount; i++ {
		reported := fakeUser(r)
		reporter := fakeUser(r)
		ip := fakeIP(r)
		sub := reports.Submission{
			TargetID:       fmt.Sprintf("img_%06d", r.Intn(100000)),
			ReportedUserID: reported,
			ReporterUserID: &reporter,
			ReporterIP:     &ip,
			Reason:         reasons[r.Intn(len(reasons))],
		}
		if d := descriptions[r.Intn(len(descriptions))]; d != "" {
			sub.Description = &d
		}
		rep, err := workflow.Submit(ctx, sub)
		if err != nil {
			logger.Fatal("submit report", zap.Error(err))
		}
		submitted++

		if r.Float64() >= *reviewShare {
			continue
		}
		to := models.ReportReviewing
		switch r.Intn(3) {
		case 1:
			to = models.ReportResolved
		case 2:
			to = models.ReportDismissed
		}
		notes := "seeded"
		if _, err := workflow.UpdateStatus(ctx, rep.ID, to, "seed-moderator", &notes); err != nil {
			logger.Fatal("update report", zap.Error(err), zap.String("report_id", rep.ID))
		}
		reviewed++
	}

	for i := 0; i < *suspendCount; i++ {
		var dur *time.Duration
		if r.Intn(2) == 0 {
			d := time.Duration(1+r.Intn(72)) * time.Hour
			dur = &d
		}
		if _, err := registry.Suspend(ctx, fakeUser(r), "seeded suspension", dur, "seed-admin"); err != nil {
			logger.Fatal("suspend user", zap.Error(err))
		}
	}

	for i := 0; i < *flagCount; i++ {
		f := randomFlag(r)
		if err := pg.InsertContentFlag(ctx, &f); err != nil {
			logger.Fatal("insert content flag", zap.Error(err))
		}
	}

	logger.Info("seed complete",
		zap.Int64("seed", *seed),
		zap.Int("reports", submitted),
		zap.Int("reviewed", reviewed),
		zap.Int("suspensions", *suspendCount),
		zap.Int("flags", *flagCount))
}

func fakeUser(r *rand.Rand) string {
	return fmt.Sprintf("user%d", r.Intn(*userCount))
}

func fakeIP(r *rand.Rand) string {
	return fmt.Sprintf("203.0.113.%d", 1+r.Intn(254))
}

func randomFlag(r *rand.Rand) models.ContentFlag {
	types := []models.FlagType{models.FlagNSFW, models.FlagCopyright, models.FlagMalware, models.FlagSuspicious}
	return models.ContentFlag{
		ID:         uuid.NewString(),
		TargetID:   fakeUser(r),
		FlagType:   types[r.Intn(len(types))],
		Confidence: []float64{0.5, 0.8, 0.9, 1.0}[r.Intn(4)],
		FlaggedBy:  "seed",
		Metadata:   map[string]string{"source": "seed"},
		CreatedAt:  time.Now().Add(-time.Duration(r.Intn(72)) * time.Hour),
	}
}
