package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/opd"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Medicine",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("component", "seed")
	if cfg.StorageBackend != "postgres" {
		logger.Error("seed requires STORAGE_BACKEND=postgres")
		os.Exit(1)
	}
	// Seeding never allocates, so it does not need redis.
	cfg.LockBackend = "local"

	doctors := getInt("SEED_DOCTORS", 10)
	days := getInt("SEED_DAYS", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rt, err := app.Build(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	gofakeit.Seed(uint64(time.Now().UnixNano()))

	today := time.Now().In(cfg.Location)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, cfg.Location)
	if err := seed(ctx, rt.Service, logger, today, doctors, days); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "doctors", doctors, "days", days)
}

// seed registers doctors and generates a morning and an afternoon session
// on each of their OPD days in the window.
func seed(ctx context.Context, svc *opd.Service, logger *logging.Logger, from time.Time, doctors, days int) error {
	sessions := []struct{ start, end string }{
		{"09:00", "13:00"},
		{"14:00", "17:00"},
	}

	for i := 0; i < doctors; i++ {
		opdDays := pickDays(3)
		doc, err := svc.CreateDoctor(ctx, "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)], opdDays)
		if err != nil {
			return fmt.Errorf("create doctor: %w", err)
		}

		created := 0
		for d := 0; d < days; d++ {
			date := from.AddDate(0, 0, d)
			if !contains(opdDays, date.Weekday().String()) {
				continue
			}
			for _, s := range sessions {
				slots, err := svc.CreateSlots(ctx, doc.ID, date, s.start, s.end, gofakeit.Number(8, 20))
				if errors.Is(err, opd.ErrSlotsExist) {
					continue
				}
				if err != nil {
					return fmt.Errorf("create slots for %s: %w", doc.Name, err)
				}
				created += len(slots)
			}
		}
		logger.Info("doctor seeded", "doctor_id", doc.ID, "name", doc.Name, "opd_days", opdDays, "slots", created)
	}
	return nil
}

func pickDays(n int) []string {
	idx := make([]int, len(weekdays))
	for i := range idx {
		idx[i] = i
	}
	gofakeit.ShuffleInts(idx)

	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, weekdays[i])
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
