package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordGeneration(t *testing.T) {
	before := testutil.ToFloat64(TokensGenerated)
	okBefore := testutil.ToFloat64(GenerationsTotal.WithLabelValues("ok"))

	RecordGeneration("ok", 3, 10, 500*time.Millisecond)

	if got := testutil.ToFloat64(TokensGenerated) - before; got != 10 {
		t.Fatalf("tokens delta = %v, want 10", got)
	}
	if got := testutil.ToFloat64(GenerationsTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Fatalf("generations delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(TokensPerSecond); got != 20 {
		t.Fatalf("tokens/s = %v, want 20", got)
	}
}

func TestRecordGenerationZeroDuration(t *testing.T) {
	// Must not divide by zero.
	RecordGeneration("error", 1, 0, 0)
}

func TestRecordNumericalInstability(t *testing.T) {
	before := testutil.ToFloat64(NumericalInstability.WithLabelValues("test_logits", "nan"))
	RecordNumericalInstability("test_logits", 5, 0)
	RecordNumericalInstability("test_logits", 0, 3)
	if got := testutil.ToFloat64(NumericalInstability.WithLabelValues("test_logits", "nan")) - before; got != 5 {
		t.Fatalf("nan delta = %v, want 5", got)
	}
}

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(ActiveSessions)
	done := SessionStarted()
	if got := testutil.ToFloat64(ActiveSessions); got != before+1 {
		t.Fatalf("active = %v, want %v", got, before+1)
	}
	done()
	if got := testutil.ToFloat64(ActiveSessions); got != before {
		t.Fatalf("active after done = %v, want %v", got, before)
	}
}

func TestRecordMisc(t *testing.T) {
	RecordForward("prefill", 2*time.Millisecond)
	RecordForward("decode", time.Millisecond)
	RecordKVCache(1 << 20)
	RecordContextLength(512)
	RecordValidationError("generate", "context_overflow")
}
