package observability

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetLogLevel(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("LOG_LEVEL", "")
	if got := getLogLevel(); got != zap.DebugLevel {
		t.Errorf("dev default = %v, want debug", got)
	}

	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "WARN")
	if got := getLogLevel(); got != zap.WarnLevel {
		t.Errorf("explicit level = %v, want warn", got)
	}

	t.Setenv("LOG_LEVEL", "loud")
	if got := getLogLevel(); got != zap.InfoLevel {
		t.Errorf("unknown level = %v, want info", got)
	}
}

func TestDecisionSampleRate(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LOG_ADMIT_SAMPLE_RATE", "")
	if got := DecisionSampleRate(LogClassDeny); got != 1.0 {
		t.Errorf("deny rate = %v, want 1", got)
	}
	if got := DecisionSampleRate(LogClassAdmit); got != 0.1 {
		t.Errorf("production admit rate = %v, want 0.1", got)
	}

	t.Setenv("LOG_ADMIT_SAMPLE_RATE", "0.25")
	if got := DecisionSampleRate(LogClassAdmit); got != 0.25 {
		t.Errorf("override admit rate = %v, want 0.25", got)
	}
	t.Setenv("LOG_ADMIT_SAMPLE_RATE", "3")
	if got := DecisionSampleRate(LogClassAdmit); got != 0.1 {
		t.Errorf("out-of-range override must be ignored, got %v", got)
	}
}

func TestSampleDecisionLog(t *testing.T) {
	t.Setenv("LOG_ADMIT_SAMPLE_RATE", "0")
	LogDecisionSampling(zap.NewNop())

	for i := 0; i < 10; i++ {
		if SampleDecisionLog(LogClassAdmit) {
			t.Fatal("admit rate 0 must never sample")
		}
	}
	for i := 0; i < 5; i++ {
		if !SampleDecisionLog(LogClassDeny) {
			t.Fatal("denials are always logged")
		}
	}
	stats := DecisionLogStats()
	if stats[LogClassAdmit].Total != 10 || stats[LogClassAdmit].Sampled != 0 {
		t.Errorf("admit stats = %+v", stats[LogClassAdmit])
	}
	if stats[LogClassDeny].Sampled != 5 {
		t.Errorf("deny stats = %+v", stats[LogClassDeny])
	}

	core, logs := observer.New(zapcore.InfoLevel)
	LogDecisionSampling(zap.New(core))
	if logs.Len() != 1 {
		t.Fatalf("expected one summary line, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["admits"] != int64(10) || fields["denials"] != int64(5) {
		t.Errorf("unexpected summary fields: %v", fields)
	}
	if len(DecisionLogStats()) != 0 {
		t.Error("stats should reset after logging")
	}
}
