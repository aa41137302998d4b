package config

import (
	"os"
	"strconv"
	"time"
)

type BillingConfig struct {
	TokensPerCredit      int64
	TokenFloor           int64
	CreditFloor          int64
	EstimateOverhead     int64
	ReservationTTL       time.Duration
	MaxRetryAttempts     int
	RetryBackoffBase     time.Duration
	BreakerThreshold     int
	BreakerCooldown      time.Duration
	LowBalanceThreshold  int64
	InitialWalletBalance int64
	SweepInterval        time.Duration
	ReconcileInterval    time.Duration
	EventsQueue          string
}

func LoadBillingConfig() *BillingConfig {
	return &BillingConfig{
		TokensPerCredit:      getEnvAsInt64("BILLING_TOKENS_PER_CREDIT", 1000),
		TokenFloor:           getEnvAsInt64("BILLING_TOKEN_FLOOR", 50),
		CreditFloor:          getEnvAsInt64("BILLING_CREDIT_FLOOR", 1),
		EstimateOverhead:     getEnvAsInt64("BILLING_ESTIMATE_OVERHEAD", 10),
		ReservationTTL:       getEnvAsDuration("BILLING_RESERVATION_TTL", 5*time.Minute),
		MaxRetryAttempts:     getEnvAsInt("BILLING_MAX_RETRY_ATTEMPTS", 3),
		RetryBackoffBase:     getEnvAsDuration("BILLING_RETRY_BACKOFF_BASE", 1*time.Second),
		BreakerThreshold:     getEnvAsInt("BILLING_BREAKER_THRESHOLD", 5),
		BreakerCooldown:      getEnvAsDuration("BILLING_BREAKER_COOLDOWN", 60*time.Second),
		LowBalanceThreshold:  getEnvAsInt64("BILLING_LOW_BALANCE_THRESHOLD", 100),
		InitialWalletBalance: getEnvAsInt64("BILLING_INITIAL_WALLET_BALANCE", 1000),
		SweepInterval:        getEnvAsDuration("BILLING_SWEEP_INTERVAL", 1*time.Minute),
		ReconcileInterval:    getEnvAsDuration("BILLING_RECONCILE_INTERVAL", 1*time.Hour),
		EventsQueue:          getEnv("BILLING_EVENTS_QUEUE", "billing_events"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
