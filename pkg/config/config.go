package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	Engine       EngineConfig
	Dispatch     DispatchConfig
	Workday      WorkdayConfig
	FollowUp     FollowUpConfig
	Trial        TrialConfig
	Reactivation ReactivationConfig
	KPI          KPIConfig
	Scheduler    SchedulerConfig
	Ingest       IngestConfig
	Sink         SinkConfig
	Reports      ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig holds settings shared by every pipeline component.
type EngineConfig struct {
	DefaultCountryPrefix string
	BusinessTimezone     string
	JobBudget            time.Duration
	StoreTimeout         time.Duration
}

// DispatchConfig tunes lead assignment.
type DispatchConfig struct {
	DailyCapDefault int
}

// WorkdayConfig carries fallback working-window bounds for agents without an
// explicit weekday schedule.
type WorkdayConfig struct {
	DefaultStart string
	DefaultEnd   string
}

// FollowUpConfig tunes the contacted chain.
type FollowUpConfig struct {
	ChainOffsetsHours []int
}

// TrialConfig tunes trial-lesson reminders.
type TrialConfig struct {
	ReminderHorizonsHours []int
}

// ReactivationConfig lists the day offsets for lost-lead re-engagement.
type ReactivationConfig struct {
	Days []int
}

// KPIConfig carries the monthly score weights. They must sum to 1.00.
type KPIConfig struct {
	WeightCompletion float64
	WeightConversion float64
	WeightResponse   float64
	WeightOverdue    float64
	WeightEnrolled   float64
}

// SchedulerConfig lists cadences and daily fire times per job kind.
type SchedulerConfig struct {
	IngestCadence     time.Duration
	DispatchCadence   time.Duration
	ReminderCadence   time.Duration
	OverdueCadence    time.Duration
	TrialCadence      time.Duration
	ChainTopUpCadence time.Duration

	DigestAt      string
	DailyKPIAt    string
	MonthlyKPIAt  string
	ReactivateAt  string
	LeaveExpiryAt string
}

// IngestConfig configures the pull-based lead source.
type IngestConfig struct {
	SourceURL    string
	FetchTimeout time.Duration
	BatchSize    int
}

// SinkConfig configures outbound notification delivery.
type SinkConfig struct {
	Timeout  time.Duration
	DedupTTL time.Duration
}

// ReportsConfig controls KPI report artifacts.
type ReportsConfig struct {
	StorageDir string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Engine = EngineConfig{
		DefaultCountryPrefix: v.GetString("DEFAULT_COUNTRY_PREFIX"),
		BusinessTimezone:     v.GetString("BUSINESS_TIMEZONE"),
		JobBudget:            parseDuration(v.GetString("JOB_BUDGET"), 10*time.Minute),
		StoreTimeout:         parseDuration(v.GetString("STORE_TIMEOUT"), 5*time.Second),
	}

	cfg.Dispatch = DispatchConfig{
		DailyCapDefault: v.GetInt("DISPATCH_DAILY_CAP_DEFAULT"),
	}

	cfg.Workday = WorkdayConfig{
		DefaultStart: v.GetString("WORKDAY_DEFAULT_START"),
		DefaultEnd:   v.GetString("WORKDAY_DEFAULT_END"),
	}

	cfg.FollowUp = FollowUpConfig{
		ChainOffsetsHours: splitInts(v.GetString("FOLLOWUP_CHAIN_OFFSETS_HOURS")),
	}

	cfg.Trial = TrialConfig{
		ReminderHorizonsHours: splitInts(v.GetString("TRIAL_REMINDER_HORIZONS_HOURS")),
	}

	cfg.Reactivation = ReactivationConfig{
		Days: splitInts(v.GetString("REACTIVATION_DAYS")),
	}

	cfg.KPI = KPIConfig{
		WeightCompletion: v.GetFloat64("KPI_WEIGHT_COMPLETION"),
		WeightConversion: v.GetFloat64("KPI_WEIGHT_CONVERSION"),
		WeightResponse:   v.GetFloat64("KPI_WEIGHT_RESPONSE"),
		WeightOverdue:    v.GetFloat64("KPI_WEIGHT_OVERDUE"),
		WeightEnrolled:   v.GetFloat64("KPI_WEIGHT_ENROLLED"),
	}

	cfg.Scheduler = SchedulerConfig{
		IngestCadence:     parseDuration(v.GetString("SCHEDULER_INGEST_CADENCE"), 5*time.Minute),
		DispatchCadence:   parseDuration(v.GetString("SCHEDULER_DISPATCH_CADENCE"), 5*time.Minute),
		ReminderCadence:   parseDuration(v.GetString("SCHEDULER_REMINDER_CADENCE"), 15*time.Minute),
		OverdueCadence:    parseDuration(v.GetString("SCHEDULER_OVERDUE_CADENCE"), 30*time.Minute),
		TrialCadence:      parseDuration(v.GetString("SCHEDULER_TRIAL_CADENCE"), 5*time.Minute),
		ChainTopUpCadence: parseDuration(v.GetString("SCHEDULER_CHAIN_TOPUP_CADENCE"), 2*time.Hour),
		DigestAt:          v.GetString("SCHEDULER_DIGEST_AT"),
		DailyKPIAt:        v.GetString("SCHEDULER_DAILY_KPI_AT"),
		MonthlyKPIAt:      v.GetString("SCHEDULER_MONTHLY_KPI_AT"),
		ReactivateAt:      v.GetString("SCHEDULER_REACTIVATION_AT"),
		LeaveExpiryAt:     v.GetString("SCHEDULER_LEAVE_EXPIRY_AT"),
	}

	cfg.Ingest = IngestConfig{
		SourceURL:    v.GetString("INGEST_SOURCE_URL"),
		FetchTimeout: parseDuration(v.GetString("INGEST_FETCH_TIMEOUT"), 30*time.Second),
		BatchSize:    v.GetInt("INGEST_BATCH_SIZE"),
	}

	cfg.Sink = SinkConfig{
		Timeout:  parseDuration(v.GetString("SINK_TIMEOUT"), 10*time.Second),
		DedupTTL: parseDuration(v.GetString("SINK_DEDUP_TTL"), 72*time.Hour),
	}

	cfg.Reports = ReportsConfig{
		StorageDir: v.GetString("REPORTS_STORAGE_DIR"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot safely start with.
func (c *Config) Validate() error {
	if c.Engine.DefaultCountryPrefix == "" {
		return fmt.Errorf("DEFAULT_COUNTRY_PREFIX is required")
	}
	if !strings.HasPrefix(c.Engine.DefaultCountryPrefix, "+") {
		return fmt.Errorf("DEFAULT_COUNTRY_PREFIX must start with '+'")
	}
	if c.Engine.BusinessTimezone == "" {
		return fmt.Errorf("BUSINESS_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.Engine.BusinessTimezone); err != nil {
		return fmt.Errorf("BUSINESS_TIMEZONE %q is not a valid IANA zone: %w", c.Engine.BusinessTimezone, err)
	}
	if c.Dispatch.DailyCapDefault < 0 {
		return fmt.Errorf("DISPATCH_DAILY_CAP_DEFAULT must be >= 0")
	}
	if len(c.FollowUp.ChainOffsetsHours) == 0 {
		return fmt.Errorf("FOLLOWUP_CHAIN_OFFSETS_HOURS must not be empty")
	}
	if len(c.Reactivation.Days) == 0 {
		return fmt.Errorf("REACTIVATION_DAYS must not be empty")
	}
	sum := c.KPI.WeightCompletion + c.KPI.WeightConversion + c.KPI.WeightResponse + c.KPI.WeightOverdue + c.KPI.WeightEnrolled
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("KPI weights must sum to 1.00, got %.4f", sum)
	}
	for _, at := range []string{c.Scheduler.DigestAt, c.Scheduler.DailyKPIAt, c.Scheduler.MonthlyKPIAt, c.Scheduler.ReactivateAt, c.Scheduler.LeaveExpiryAt} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("scheduler fire time %q must be HH:MM: %w", at, err)
		}
	}
	for _, bound := range []string{c.Workday.DefaultStart, c.Workday.DefaultEnd} {
		if _, err := time.Parse("15:04", bound); err != nil {
			return fmt.Errorf("workday bound %q must be HH:MM: %w", bound, err)
		}
	}
	return nil
}

// Location resolves the configured business timezone. Validate has already
// checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lead_engine")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DEFAULT_COUNTRY_PREFIX", "+998")
	v.SetDefault("BUSINESS_TIMEZONE", "Asia/Tashkent")
	v.SetDefault("JOB_BUDGET", "10m")
	v.SetDefault("STORE_TIMEOUT", "5s")

	v.SetDefault("DISPATCH_DAILY_CAP_DEFAULT", 10)
	v.SetDefault("WORKDAY_DEFAULT_START", "09:00")
	v.SetDefault("WORKDAY_DEFAULT_END", "18:00")

	v.SetDefault("FOLLOWUP_CHAIN_OFFSETS_HOURS", "24,72,168,336")
	v.SetDefault("TRIAL_REMINDER_HORIZONS_HOURS", "10,2")
	v.SetDefault("REACTIVATION_DAYS", "7,14,30")

	v.SetDefault("KPI_WEIGHT_COMPLETION", 0.30)
	v.SetDefault("KPI_WEIGHT_CONVERSION", 0.30)
	v.SetDefault("KPI_WEIGHT_RESPONSE", 0.20)
	v.SetDefault("KPI_WEIGHT_OVERDUE", 0.10)
	v.SetDefault("KPI_WEIGHT_ENROLLED", 0.10)

	v.SetDefault("SCHEDULER_INGEST_CADENCE", "5m")
	v.SetDefault("SCHEDULER_DISPATCH_CADENCE", "5m")
	v.SetDefault("SCHEDULER_REMINDER_CADENCE", "15m")
	v.SetDefault("SCHEDULER_OVERDUE_CADENCE", "30m")
	v.SetDefault("SCHEDULER_TRIAL_CADENCE", "5m")
	v.SetDefault("SCHEDULER_CHAIN_TOPUP_CADENCE", "2h")
	v.SetDefault("SCHEDULER_DIGEST_AT", "09:00")
	v.SetDefault("SCHEDULER_DAILY_KPI_AT", "23:55")
	v.SetDefault("SCHEDULER_MONTHLY_KPI_AT", "00:10")
	v.SetDefault("SCHEDULER_REACTIVATION_AT", "03:00")
	v.SetDefault("SCHEDULER_LEAVE_EXPIRY_AT", "00:15")

	v.SetDefault("INGEST_SOURCE_URL", "")
	v.SetDefault("INGEST_FETCH_TIMEOUT", "30s")
	v.SetDefault("INGEST_BATCH_SIZE", 100)

	v.SetDefault("SINK_TIMEOUT", "10s")
	v.SetDefault("SINK_DEDUP_TTL", "72h")

	v.SetDefault("REPORTS_STORAGE_DIR", "./reports")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitInts(raw string) []int {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			continue
		}
		result = append(result, n)
	}

	return result
}
