package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultCountryPrefix: "+998",
			BusinessTimezone:     "Asia/Tashkent",
			JobBudget:            10 * time.Minute,
			StoreTimeout:         5 * time.Second,
		},
		Dispatch: DispatchConfig{DailyCapDefault: 10},
		Workday:  WorkdayConfig{DefaultStart: "09:00", DefaultEnd: "18:00"},
		FollowUp: FollowUpConfig{ChainOffsetsHours: []int{24, 72, 168, 336}},
		Trial:    TrialConfig{ReminderHorizonsHours: []int{10, 2}},
		Reactivation: ReactivationConfig{
			Days: []int{7, 14, 30},
		},
		KPI: KPIConfig{
			WeightCompletion: 0.30,
			WeightConversion: 0.30,
			WeightResponse:   0.20,
			WeightOverdue:    0.10,
			WeightEnrolled:   0.10,
		},
		Scheduler: SchedulerConfig{
			DigestAt:      "09:00",
			DailyKPIAt:    "23:55",
			MonthlyKPIAt:  "00:10",
			ReactivateAt:  "03:00",
			LeaveExpiryAt: "00:15",
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := validConfig()
	cfg.KPI.WeightCompletion = 0.50

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.00")
}

func TestValidateRejectsMissingCountryPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.DefaultCountryPrefix = ""
	require.Error(t, cfg.Validate())

	cfg.Engine.DefaultCountryPrefix = "998"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.BusinessTimezone = "Nowhere/Invalid"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMalformedFireTime(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.DailyKPIAt = "25:99"
	require.Error(t, cfg.Validate())
}

func TestSplitInts(t *testing.T) {
	assert.Equal(t, []int{24, 72, 168, 336}, splitInts("24,72,168,336"))
	assert.Equal(t, []int{7, 14}, splitInts(" 7 , 14 , x "))
	assert.Nil(t, splitInts(""))
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.BusinessTimezone = "garbage"
	assert.Equal(t, time.UTC, cfg.Location())
}
