package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/carebridge/telehealth-booking/internal/booking"
	"github.com/carebridge/telehealth-booking/internal/db"
)

// Seeds availability days for a batch of fake doctors: 30-minute slots between
// 09:00 and 17:00 UTC for the next few days. Doctor identities normally come
// from the auth provider; here they are generated and printed so tokens can be
// minted against them.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	doctorCount := envInt("SEED_DOCTORS", 20)
	dayCount := envInt("SEED_DAYS", 7)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(dsn); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	store := booking.NewPgStore(pool)
	gofakeit.Seed(time.Now().UnixNano())

	today := booking.DayOf(time.Now())

	for i := 0; i < doctorCount; i++ {
		doctorID := uuid.NewString()
		name := gofakeit.Name()

		for d := 1; d <= dayCount; d++ {
			day := today.AddDate(0, 0, d)
			slots := workingDaySlots(day)

			if err := store.ReplaceDay(context.Background(), doctorID, day, slots); err != nil {
				log.Fatalf("seed availability for doctor %s: %v", doctorID, err)
			}
		}

		log.Printf("seeded doctor id=%s name=%q days=%d", doctorID, name, dayCount)
	}

	log.Println("seed complete")
}

// workingDaySlots builds a random subset of the 09:00-17:00 half-hour grid.
func workingDaySlots(day time.Time) []booking.TimeSlot {
	var slots []booking.TimeSlot
	start := day.Add(9 * time.Hour)
	end := day.Add(17 * time.Hour)

	for t := start; t.Before(end); t = t.Add(booking.SlotDuration) {
		if gofakeit.Bool() {
			continue
		}
		slots = append(slots, booking.TimeSlot{
			StartTime: t,
			EndTime:   t.Add(booking.SlotDuration),
		})
	}
	return slots
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
