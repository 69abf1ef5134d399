package services

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Severity orders health outcomes; the report takes the worst one.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityDegraded
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDegraded:
		return "degraded"
	case SeverityCritical:
		return "critical"
	}
	return "ok"
}

const (
	probeUp       = "up"
	probeDown     = "down"
	probeDisabled = "disabled"

	healthServiceName = "StepSchool Fee API"
	healthVersion     = "1.0.0"
	probeTimeout      = 1500 * time.Millisecond
)

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status        string        `json:"status"`
	Service       string        `json:"service"`
	Version       string        `json:"version"`
	Environment   string        `json:"environment"`
	Time          time.Time     `json:"time"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	UptimeHuman   string        `json:"uptime_human"`
	Dependencies  []ProbeResult `json:"dependencies"`
	Flags         HealthFlags   `json:"flags"`
	Runtime       RuntimeInfo   `json:"runtime"`
}

// ProbeResult is the outcome of checking one backing service.
type ProbeResult struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthFlags echoes the feature toggles the process started with.
type HealthFlags struct {
	SkipMigrate   bool `json:"skip_migrate"`
	ExportEnabled bool `json:"export_enabled"`
}

type RuntimeInfo struct {
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	Goroutines int    `json:"goroutines"`
}

// probe checks one dependency and says how bad a failure is.
type probe func(ctx context.Context) (ProbeResult, Severity)

// HealthService reports on the database and Redis.
type HealthService struct {
	environment string
	startedAt   time.Time
	flags       HealthFlags
	probes      []probe
}

// NewHealthService probes db and rdb. rdb may be nil when Redis is not configured.
func NewHealthService(db *gorm.DB, rdb *redis.Client, environment string, flags HealthFlags) *HealthService {
	if strings.TrimSpace(environment) == "" {
		environment = "unknown"
	}
	return &HealthService{
		environment: environment,
		startedAt:   time.Now(),
		flags:       flags,
		probes:      []probe{databaseProbe(db), redisProbe(rdb)},
	}
}

// SetStartTime overrides the process start used for uptime.
func (s *HealthService) SetStartTime(t time.Time) {
	if !t.IsZero() {
		s.startedAt = t
	}
}

// GetHealthReport runs every probe under one timeout.
func (s *HealthService) GetHealthReport(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	uptime := time.Since(s.startedAt)
	if uptime < 0 {
		uptime = 0
	}

	worst := SeverityOK
	results := make([]ProbeResult, 0, len(s.probes))
	for _, p := range s.probes {
		res, sev := p(ctx)
		if sev > worst {
			worst = sev
		}
		results = append(results, res)
	}

	return HealthReport{
		Status:        worst.String(),
		Service:       healthServiceName,
		Version:       healthVersion,
		Environment:   s.environment,
		Time:          time.Now().UTC(),
		UptimeSeconds: uptime.Seconds(),
		UptimeHuman:   humanizeDuration(uptime),
		Dependencies:  results,
		Flags:         s.flags,
		Runtime: RuntimeInfo{
			GoVersion:  runtime.Version(),
			OS:         runtime.GOOS,
			Arch:       runtime.GOARCH,
			Goroutines: runtime.NumGoroutine(),
		},
	}
}

// HTTPStatusForOverall is 503 only when the database is unreachable.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == SeverityCritical.String() {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func databaseProbe(db *gorm.DB) probe {
	return func(ctx context.Context) (ProbeResult, Severity) {
		res := ProbeResult{Name: "database", Status: probeDown}
		if db == nil {
			res.Error = "database not connected"
			return res, SeverityCritical
		}
		res.Name = db.Dialector.Name()

		sqlDB, err := db.DB()
		if err != nil {
			res.Error = fmt.Sprintf("sql handle: %v", err)
			return res, SeverityCritical
		}
		began := time.Now()
		err = sqlDB.PingContext(ctx)
		res.LatencyMs = time.Since(began).Milliseconds()
		if err != nil {
			res.Error = err.Error()
			return res, SeverityCritical
		}

		pool := sqlDB.Stats()
		res.Status = probeUp
		res.Details = map[string]interface{}{
			"open":     pool.OpenConnections,
			"in_use":   pool.InUse,
			"idle":     pool.Idle,
			"max_open": pool.MaxOpenConnections,
			"waits":    pool.WaitCount,
		}
		return res, SeverityOK
	}
}

// Redis only backs logout and idempotency keys, so an outage degrades rather than fails.
func redisProbe(rdb *redis.Client) probe {
	return func(ctx context.Context) (ProbeResult, Severity) {
		res := ProbeResult{Name: "redis", Status: probeDisabled}
		if rdb == nil {
			return res, SeverityOK
		}
		began := time.Now()
		err := rdb.Ping(ctx).Err()
		res.LatencyMs = time.Since(began).Milliseconds()
		if err != nil {
			res.Status = probeDown
			res.Error = err.Error()
			return res, SeverityDegraded
		}
		res.Status = probeUp
		res.Details = map[string]interface{}{"addr": rdb.Options().Addr}
		return res, SeverityOK
	}
}

var durationUnits = []struct {
	size   time.Duration
	suffix string
}{
	{24 * time.Hour, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
}

// humanizeDuration renders 26h as "1d 2h". Zero units are omitted.
func humanizeDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	var parts []string
	for _, u := range durationUnits {
		if n := d / u.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
			d -= n * u.size
		}
	}
	return strings.Join(parts, " ")
}
