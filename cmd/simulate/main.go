package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hackgods/opd-token-allocation/internal/logging"
)

// SimConfig drives one simulated OPD day against a running api-server.
type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Doctors     int
	Date        string
	OPDStart    string
	OPDEnd      string
	MaxCapacity int

	// operation mix, normalized to sum to 1
	BookingRatio float64
	CancelRatio  float64
	NoShowRatio  float64
	ReadRatio    float64
}

// categoryWeights is how arrivals split across booking endpoints.
var categoryWeights = []struct {
	endpoint string
	weight   int
}{
	{"book", 40},
	{"walkin", 30},
	{"followup", 15},
	{"priority", 10},
	{"emergency", 5},
}

type DataPool struct {
	Doctors []uuid.UUID
	Slots   []uuid.UUID

	mu     sync.Mutex
	tokens []uuid.UUID
}

func (dp *DataPool) AddToken(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.tokens = append(dp.tokens, id)
}

// TakeToken removes and returns a random token so that two workers do not
// race to cancel the same booking.
func (dp *DataPool) TakeToken(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.tokens) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.tokens))
	id := dp.tokens[idx]
	dp.tokens[idx] = dp.tokens[len(dp.tokens)-1]
	dp.tokens = dp.tokens[:len(dp.tokens)-1]
	return id, true
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking    OperationMetrics
	Waitlist   OperationMetrics
	Cancel     OperationMetrics
	NoShow     OperationMetrics
	ReadQueue  OperationMetrics
	ReadStats  OperationMetrics
	Reallocate OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(getEnv("LOG_LEVEL", "info")).With("component", "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting",
		"api", cfg.APIBaseURL, "duration", cfg.Duration.String(), "workers", cfg.Workers,
		"doctors", cfg.Doctors, "date", cfg.Date)

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	setupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.Setup(setupCtx); err != nil {
		logger.Error("setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("opd initialized", "doctors", len(sim.pool.Doctors), "slots", len(sim.pool.Slots))

	sim.Run()
	sim.DelayAndReallocate(context.Background())
	sim.PrintReport(context.Background())
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Doctors:      getInt("SIM_DOCTORS", 3),
		Date:         getEnv("SIM_DATE", time.Now().Format("2006-01-02")),
		OPDStart:     getEnv("SIM_OPD_START", "09:00"),
		OPDEnd:       getEnv("SIM_OPD_END", "17:00"),
		MaxCapacity:  getInt("SIM_MAX_CAPACITY", 15),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.55),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		NoShowRatio:  getFloat("SIM_NOSHOW_RATIO", 0.05),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.NoShowRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.NoShowRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Doctors <= 0 {
		return fmt.Errorf("SIM_DOCTORS must be > 0")
	}
	if _, err := time.Parse("2006-01-02", cfg.Date); err != nil {
		return fmt.Errorf("SIM_DATE must be YYYY-MM-DD: %w", err)
	}
	return nil
}

// Setup registers the doctors and generates their slots for the day.
func (s *Simulator) Setup(ctx context.Context) error {
	specialties := []string{"Cardiology", "Pediatrics", "General Medicine", "Orthopedics", "Dermatology", "ENT"}
	for i := 0; i < s.config.Doctors; i++ {
		var doc struct {
			ID uuid.UUID `json:"id"`
		}
		body := map[string]any{
			"name":           "Dr. " + gofakeit.Name(),
			"specialization": specialties[i%len(specialties)],
			"opd_days":       []string{"Monday", "Wednesday", "Friday"},
		}
		if status, err := s.call(ctx, http.MethodPost, "/doctors", body, &doc); err != nil || status != http.StatusCreated {
			return fmt.Errorf("create doctor: status=%d err=%v", status, err)
		}
		s.pool.Doctors = append(s.pool.Doctors, doc.ID)

		var slots struct {
			Data []struct {
				ID uuid.UUID `json:"id"`
			} `json:"data"`
		}
		body = map[string]any{
			"doctor_id":    doc.ID.String(),
			"date":         s.config.Date,
			"start_time":   s.config.OPDStart,
			"end_time":     s.config.OPDEnd,
			"max_capacity": s.config.MaxCapacity,
		}
		if status, err := s.call(ctx, http.MethodPost, "/slots", body, &slots); err != nil || status != http.StatusCreated {
			return fmt.Errorf("create slots: status=%d err=%v", status, err)
		}
		for _, sl := range slots.Data {
			s.pool.Slots = append(s.pool.Slots, sl.ID)
		}
	}
	if len(s.pool.Slots) == 0 {
		return fmt.Errorf("no slots created")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration.String(), "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, faker)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doRelease(ctx, rng, "cancel", &s.metrics.Cancel)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.NoShowRatio:
			s.doRelease(ctx, rng, "no-show", &s.metrics.NoShow)
		default:
			if rng.Intn(2) == 0 {
				s.doRead(ctx, rng, "/slots/%s/queue", s.pool.Slots, &s.metrics.ReadQueue)
			} else {
				s.doRead(ctx, rng, "/doctors/%s/stats", s.pool.Doctors, &s.metrics.ReadStats)
			}
		}
	}
}

func pickEndpoint(rng *rand.Rand) string {
	total := 0
	for _, c := range categoryWeights {
		total += c.weight
	}
	n := rng.Intn(total)
	for _, c := range categoryWeights {
		if n < c.weight {
			return c.endpoint
		}
		n -= c.weight
	}
	return categoryWeights[0].endpoint
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	phone := faker.Phone()
	body := map[string]any{
		"slot_id":      slotID.String(),
		"patient_id":   "PAT-" + strconv.Itoa(faker.Number(1, 5000)),
		"patient_name": faker.Name(),
		"phone":        phone,
	}
	endpoint := pickEndpoint(rng)

	var tok struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/tokens/"+endpoint, body, &tok)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddToken(tok.ID)
	}
	full := err == nil && status == http.StatusConflict
	s.metrics.Booking.Record(latency, success, full || status == http.StatusServiceUnavailable)

	// A patient turned away from a full slot joins its waitlist.
	if full && endpoint != "emergency" {
		body["category"] = strings.ToUpper(endpoint)
		if endpoint == "book" {
			body["category"] = "ONLINE"
		}
		start = time.Now()
		status, err = s.call(ctx, http.MethodPost, "/tokens/waitlist", body, nil)
		s.metrics.Waitlist.Record(time.Since(start), err == nil && (status == http.StatusAccepted || status == http.StatusCreated), status == http.StatusConflict)
	}
}

func (s *Simulator) doRelease(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	tokenID, ok := s.pool.TakeToken(rng)
	if !ok {
		return
	}

	var body any
	if action == "cancel" {
		body = map[string]string{"reason": "Patient cancelled"}
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/tokens/%s/%s", tokenID, action), body, nil)
	om.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand, pathFmt string, ids []uuid.UUID, om *OperationMetrics) {
	if len(ids) == 0 {
		return
	}
	id := ids[rng.Intn(len(ids))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, fmt.Sprintf(pathFmt, id), nil, nil)
	om.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// DelayAndReallocate reproduces a doctor running late: the first doctor's
// second slot is delayed and its overflow moved to the next open slot.
func (s *Simulator) DelayAndReallocate(ctx context.Context) {
	perDoctor := len(s.pool.Slots) / len(s.pool.Doctors)
	if perDoctor < 2 {
		return
	}
	slotID := s.pool.Slots[1]

	status, err := s.call(ctx, http.MethodPost, "/slots/"+slotID.String()+"/delay", map[string]int{"delay_minutes": 30}, nil)
	if err != nil || status != http.StatusOK {
		s.logger.Warn("delay slot failed", "slot_id", slotID, "status", status, "error", err)
		return
	}

	var res struct {
		Moved []json.RawMessage `json:"moved"`
	}
	start := time.Now()
	status, err = s.call(ctx, http.MethodPost, "/slots/"+slotID.String()+"/reallocate", map[string]string{"reason": "doctor_delay"}, &res)
	s.metrics.Reallocate.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusUnprocessableEntity)
	s.logger.Info("doctor delay simulated", "slot_id", slotID, "status", status, "moved", len(res.Moved))
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport(ctx context.Context) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("OPD DAY SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Date: %s\n", s.config.Date)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Waitlist", &s.metrics.Waitlist)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("No-show", &s.metrics.NoShow)
	printOperationReport("Read queue", &s.metrics.ReadQueue)
	printOperationReport("Read stats", &s.metrics.ReadStats)
	printOperationReport("Reallocate", &s.metrics.Reallocate)

	for _, id := range s.pool.Doctors {
		var stats struct {
			Slots           int            `json:"slots"`
			TotalCapacity   int            `json:"total_capacity"`
			TotalBooked     int            `json:"total_booked"`
			UtilizationRate float64        `json:"utilization_rate"`
			ByCategory      map[string]int `json:"by_category"`
			WaitlistLength  int            `json:"waitlist_length"`
		}
		status, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/stats?date=%s", id, s.config.Date), nil, &stats)
		if err != nil || status != http.StatusOK {
			continue
		}
		fmt.Printf("Doctor %s:\n", id)
		fmt.Printf("  Slots: %d  Capacity: %d  Booked: %d  Utilization: %.2f%%  Waitlisted: %d\n",
			stats.Slots, stats.TotalCapacity, stats.TotalBooked, stats.UtilizationRate, stats.WaitlistLength)
		fmt.Printf("  By category: EMERGENCY=%d PRIORITY=%d FOLLOWUP=%d ONLINE=%d WALKIN=%d\n",
			stats.ByCategory["EMERGENCY"], stats.ByCategory["PRIORITY"], stats.ByCategory["FOLLOWUP"],
			stats.ByCategory["ONLINE"], stats.ByCategory["WALKIN"])
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
