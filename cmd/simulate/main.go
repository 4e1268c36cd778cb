package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
)

type SimConfig struct {
	APIBaseURL  string        `env:"SIM_API_BASE_URL" envDefault:"http://localhost:8080"`
	Duration    time.Duration `env:"SIM_DURATION" envDefault:"30s"`
	Workers     int           `env:"SIM_WORKERS" envDefault:"20"`
	HotSlots    int           `env:"SIM_HOT_SLOTS" envDefault:"10"`
	ReadRatio   float64       `env:"SIM_READ_RATIO" envDefault:"0.3"`
	DoctorLimit int           `env:"SIM_DOCTOR_LIMIT" envDefault:"5"`
	Cleanup     bool          `env:"SIM_CLEANUP" envDefault:"true"`
	PostgresDSN string        `env:"POSTGRES_DSN"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	Env         string        `env:"APP_ENV" envDefault:"dev"`
}

// Target is one bookable slot that every worker competes for.
type Target struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
}

func (t Target) key() string {
	return t.DoctorID.String() + " " + t.Date + " " + t.Time
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	return avg, latencies[0], latencies[len(latencies)-1],
		percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Booking      OperationMetrics
	Availability OperationMetrics
	SlotCheck    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	targets []Target
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics

	mu     sync.Mutex
	winner map[string][]uuid.UUID // target key -> appointments created for it
}

func main() {
	_ = godotenv.Load()

	var cfg SimConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "simulate").Logger()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("hot_slots", cfg.HotSlots).
		Float64("read_ratio", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	doctors, err := loadDoctors(ctx, pgPool, cfg.DoctorLimit)
	pgPool.Close()
	if err != nil {
		logger.Fatal().Err(err).Msg("load doctors")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
		winner: make(map[string][]uuid.UUID),
	}
	if err := sim.pickTargets(ctx, doctors); err != nil {
		logger.Fatal().Err(err).Msg("pick targets")
	}
	logger.Info().Int("doctors", len(doctors)).Int("targets", len(sim.targets)).Msg("targets loaded")

	sim.Run()
	healthy := sim.PrintReport()
	if cfg.Cleanup {
		sim.cleanup(context.Background())
	}
	if !healthy {
		os.Exit(1)
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return errors.New("SIM_HOT_SLOTS must be > 0")
	}
	if cfg.ReadRatio < 0 || cfg.ReadRatio >= 1 {
		return errors.New("SIM_READ_RATIO must be in [0, 1)")
	}
	return nil
}

func loadDoctors(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no doctors found, run schedctl seed first")
	}
	return ids, nil
}

type availabilityResponse struct {
	Days []struct {
		Date      string   `json:"date"`
		Available []string `json:"available"`
	} `json:"days"`
}

// pickTargets takes free slots from the next two weeks of availability,
// spread across doctors, until HotSlots targets are found.
func (s *Simulator) pickTargets(ctx context.Context, doctors []uuid.UUID) error {
	from := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 14).Format("2006-01-02")

	for _, doctorID := range doctors {
		url := fmt.Sprintf("%s/doctors/%s/availability?from=%s&to=%s", s.config.APIBaseURL, doctorID, from, to)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("availability for doctor %s: unexpected status %d", doctorID, resp.StatusCode)
		}

		var body availabilityResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode availability: %w", err)
		}

		for _, day := range body.Days {
			for _, at := range day.Available {
				s.targets = append(s.targets, Target{DoctorID: doctorID, Date: day.Date, Time: at})
				if len(s.targets) >= s.config.HotSlots {
					return nil
				}
			}
		}
	}
	if len(s.targets) == 0 {
		return errors.New("no available slots in the next two weeks")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			t := s.targets[rng.Intn(len(s.targets))]
			if rng.Float64() < s.config.ReadRatio {
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, t)
				} else {
					s.doSlotCheck(ctx, t)
				}
				continue
			}
			s.doBooking(ctx, t)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, t Target) {
	body, _ := json.Marshal(map[string]string{
		"doctor_id":     t.DoctorID.String(),
		"patient_name":  "Load Test",
		"patient_phone": "+10000000000",
		"description":   "simulated booking",
		"date":          t.Date,
		"time":          t.Time,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "simulator")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&created)
		s.mu.Lock()
		s.winner[t.key()] = append(s.winner[t.key()], created.ID)
		s.mu.Unlock()
		s.metrics.Booking.Record(latency, true, false)
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
}

func (s *Simulator) doAvailability(ctx context.Context, t Target) {
	s.get(ctx, &s.metrics.Availability,
		fmt.Sprintf("%s/doctors/%s/availability/%s", s.config.APIBaseURL, t.DoctorID, t.Date))
}

func (s *Simulator) doSlotCheck(ctx context.Context, t Target) {
	s.get(ctx, &s.metrics.SlotCheck,
		fmt.Sprintf("%s/doctors/%s/slots/check?date=%s&time=%s", s.config.APIBaseURL, t.DoctorID, t.Date, t.Time))
}

func (s *Simulator) get(ctx context.Context, om *OperationMetrics, url string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, false, false)
		}
		return
	}
	resp.Body.Close()
	om.Record(latency, resp.StatusCode == http.StatusOK, false)
}

// cleanup cancels every appointment the run created so the slots are free again.
func (s *Simulator) cleanup(ctx context.Context) {
	cancelled := 0
	for _, ids := range s.winner {
		for _, id := range ids {
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, id), nil)
			req.Header.Set("X-Actor-ID", "simulator")
			resp, err := s.client.Do(req)
			if err != nil {
				s.log.Warn().Err(err).Str("appointment_id", id.String()).Msg("cleanup cancel failed")
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				cancelled++
			}
		}
	}
	s.log.Info().Int("cancelled", cancelled).Msg("cleanup complete")
}

// doubleBooked lists targets that more than one booking succeeded for.
func (s *Simulator) doubleBooked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key, ids := range s.winner {
		if len(ids) > 1 {
			out = append(out, fmt.Sprintf("%s (%d bookings)", key, len(ids)))
		}
	}
	sort.Strings(out)
	return out
}

// PrintReport prints the run summary and reports whether no slot was
// booked twice.
func (s *Simulator) PrintReport() bool {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Slot check", &s.metrics.SlotCheck)

	success := atomic.LoadInt64(&s.metrics.Booking.Success)
	doubles := s.doubleBooked()
	healthy := success <= int64(len(s.targets)) && len(doubles) == 0

	if healthy {
		fmt.Printf("OK: %d successful bookings for %d slots\n", success, len(s.targets))
	} else {
		fmt.Printf("FAIL: %d successful bookings for %d slots\n", success, len(s.targets))
		for _, d := range doubles {
			fmt.Printf("  double booked: %s\n", d)
		}
	}
	return healthy
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}
