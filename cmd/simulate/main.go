package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-booking/internal/auth"
	"github.com/carebridge/telehealth-booking/internal/booking"
)

// Load simulator: publishes availability for a handful of doctors, then lets a
// swarm of patient workers race for the same slots through the public API.
// At the end it verifies that no slot was booked more than once.

type simConfig struct {
	APIBaseURL string
	JWTSecret  string
	Doctors    int
	Workers    int
	Timeout    time.Duration
}

type slotTarget struct {
	DoctorID string
	Slot     booking.TimeSlot
}

type metrics struct {
	attempts    int64
	booked      int64
	unavailable int64
	conflicts   int64
	errors      int64

	mu        sync.Mutex
	latencies []time.Duration
	perSlot   map[string]int
}

func (m *metrics) record(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latency)
}

func (m *metrics) markBooked(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perSlot[key]++
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := simConfig{
		APIBaseURL: envStr("API_BASE_URL", "http://localhost:8080"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		Doctors:    envInt("SIM_DOCTORS", 3),
		Workers:    envInt("SIM_WORKERS", 50),
		Timeout:    time.Duration(envInt("SIM_TIMEOUT_SECONDS", 60)) * time.Second,
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	client := &http.Client{Timeout: 10 * time.Second}

	targets, err := publishAvailability(client, verifier, cfg)
	if err != nil {
		log.Fatalf("publish availability: %v", err)
	}
	log.Printf("published %d slots across %d doctors", len(targets), cfg.Doctors)

	m := &metrics{perSlot: make(map[string]int)}
	deadline := time.Now().Add(cfg.Timeout)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(client, verifier, cfg, targets, m, deadline)
		}()
	}
	wg.Wait()

	report(m, len(targets))
}

func publishAvailability(client *http.Client, verifier *auth.Verifier, cfg simConfig) ([]slotTarget, error) {
	tomorrow := booking.DayOf(time.Now()).AddDate(0, 0, 1)

	var targets []slotTarget
	for i := 0; i < cfg.Doctors; i++ {
		doctorID := uuid.NewString()
		token, err := verifier.Sign(auth.Identity{UserID: doctorID, Role: auth.RoleDoctor}, time.Hour)
		if err != nil {
			return nil, err
		}

		var slots []map[string]any
		for t := tomorrow.Add(9 * time.Hour); t.Before(tomorrow.Add(17 * time.Hour)); t = t.Add(booking.SlotDuration) {
			slot := booking.TimeSlot{StartTime: t, EndTime: t.Add(booking.SlotDuration)}
			slots = append(slots, map[string]any{
				"start_time": slot.StartTime.Format(time.RFC3339),
				"end_time":   slot.EndTime.Format(time.RFC3339),
			})
			targets = append(targets, slotTarget{DoctorID: doctorID, Slot: slot})
		}

		body, _ := json.Marshal(map[string]any{
			"date":       tomorrow.Format("2006-01-02"),
			"time_slots": slots,
		})

		url := fmt.Sprintf("%s/doctors/%s/availability", cfg.APIBaseURL, doctorID)
		req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("availability PUT returned %d", resp.StatusCode)
		}
	}

	return targets, nil
}

func runWorker(client *http.Client, verifier *auth.Verifier, cfg simConfig, targets []slotTarget, m *metrics, deadline time.Time) {
	patientID := uuid.NewString()
	token, err := verifier.Sign(auth.Identity{UserID: patientID, Role: auth.RolePatient}, time.Hour)
	if err != nil {
		log.Printf("worker token error: %v", err)
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(rand.Int())))

	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&m.booked) >= int64(len(targets)) {
			return
		}

		target := targets[rng.Intn(len(targets))]
		atomic.AddInt64(&m.attempts, 1)

		start := time.Now()
		status, errCode := attemptBooking(client, cfg.APIBaseURL, token, target)
		m.record(time.Since(start))

		switch {
		case status == http.StatusCreated:
			atomic.AddInt64(&m.booked, 1)
			m.markBooked(booking.DayKey(target.DoctorID, target.Slot.StartTime) + target.Slot.StartTime.Format("15:04"))
		case status == http.StatusConflict && errCode == "slot_unavailable":
			atomic.AddInt64(&m.unavailable, 1)
		case status == http.StatusConflict && errCode == "concurrent_conflict":
			atomic.AddInt64(&m.conflicts, 1)
		default:
			atomic.AddInt64(&m.errors, 1)
		}
	}
}

func attemptBooking(client *http.Client, baseURL, token string, target slotTarget) (int, string) {
	body, _ := json.Marshal(map[string]any{
		"doctor_id": target.DoctorID,
		"slot": map[string]any{
			"start_time": target.Slot.StartTime.Format(time.RFC3339),
			"end_time":   target.Slot.EndTime.Format(time.RFC3339),
		},
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return 0, ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	var errResp struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &errResp)

	return resp.StatusCode, errResp.Error
}

func report(m *metrics, totalSlots int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total, max time.Duration
	for _, l := range m.latencies {
		total += l
		if l > max {
			max = l
		}
	}
	var avg time.Duration
	if len(m.latencies) > 0 {
		avg = total / time.Duration(len(m.latencies))
	}

	doubles := 0
	for _, count := range m.perSlot {
		if count > 1 {
			doubles++
		}
	}

	log.Printf("attempts=%d booked=%d/%d unavailable=%d conflicts=%d errors=%d",
		m.attempts, m.booked, totalSlots, m.unavailable, m.conflicts, m.errors)
	log.Printf("latency avg=%s max=%s", avg, max)

	if doubles > 0 {
		log.Fatalf("INVARIANT VIOLATED: %d slots booked more than once", doubles)
	}
	log.Println("no double bookings detected")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
