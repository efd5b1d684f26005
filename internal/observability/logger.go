package observability

import (
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultServiceName names the logger when no service name is configured.
const DefaultServiceName = "abuseguard"

// InitLogger constructs a production zap.Logger for the default service name.
func InitLogger() (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), DefaultServiceName)
}

// InitLoggerWithService constructs a production zap.Logger for serviceName.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel constructs a JSON zap.Logger at level, named with
// serviceName and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Decision logs are thinned by SampleDecisionLog, not by zap's sampler.
	cfg.Sampling = nil

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func isDevEnv() bool {
	env := strings.ToLower(os.Getenv("ENV"))
	return env == "development" || env == "dev"
}

// getLogLevel reads LOG_LEVEL, defaulting to debug in development and info
// elsewhere. Unknown values fall back to info.
func getLogLevel() zapcore.Level {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if v == "" {
		if isDevEnv() {
			return zap.DebugLevel
		}
		return zap.InfoLevel
	}
	level, err := zapcore.ParseLevel(v)
	if err != nil {
		return zap.InfoLevel
	}
	return level
}

// Decision log classes. Denials are always logged; admits are sampled.
const (
	LogClassAdmit = "admit"
	LogClassDeny  = "deny"
)

// SamplingStats counts sampling decisions for one log class.
type SamplingStats struct {
	Total   int64
	Sampled int64
	Rate    float64
}

var (
	samplingMu    sync.Mutex
	samplingStats = make(map[string]SamplingStats)
)

// DecisionSampleRate returns the fraction of class logs to emit.
// LOG_ADMIT_SAMPLE_RATE overrides the per-environment admit rate.
func DecisionSampleRate(class string) float64 {
	if class != LogClassAdmit {
		return 1.0
	}
	if v := os.Getenv("LOG_ADMIT_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	if isDevEnv() {
		return 1.0
	}
	switch strings.ToLower(os.Getenv("ENV")) {
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}

// SampleDecisionLog reports whether a decision log of class should be
// emitted and records the outcome. Safe for concurrent use.
func SampleDecisionLog(class string) bool {
	return sampleAt(class, DecisionSampleRate(class))
}

func sampleAt(class string, rate float64) bool {
	emit := rate >= 1.0 || (rate > 0 && rand.Float64() < rate)

	samplingMu.Lock()
	st := samplingStats[class]
	st.Total++
	st.Rate = rate
	if emit {
		st.Sampled++
	}
	samplingStats[class] = st
	samplingMu.Unlock()

	return emit
}

// DecisionLogStats returns a copy of the per-class sampling counts.
func DecisionLogStats() map[string]SamplingStats {
	samplingMu.Lock()
	defer samplingMu.Unlock()
	out := make(map[string]SamplingStats, len(samplingStats))
	for k, v := range samplingStats {
		out[k] = v
	}
	return out
}

// LogDecisionSampling logs the admit/deny split since the last call and
// resets the counts.
func LogDecisionSampling(logger *zap.Logger) {
	samplingMu.Lock()
	stats := samplingStats
	samplingStats = make(map[string]SamplingStats)
	samplingMu.Unlock()

	admit, deny := stats[LogClassAdmit], stats[LogClassDeny]
	if admit.Total+deny.Total == 0 {
		return
	}
	logger.Info("decision log sampling",
		zap.Int64("admits", admit.Total),
		zap.Int64("admits_logged", admit.Sampled),
		zap.Float64("admit_rate", admit.Rate),
		zap.Int64("denials", deny.Total),
		zap.Float64("deny_share", float64(deny.Total)/float64(admit.Total+deny.Total)),
	)
}
