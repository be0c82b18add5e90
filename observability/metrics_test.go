package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fporacle/core/events"
	"fporacle/core/types"
)

func TestEventEmitterCountsClaimFailures(t *testing.T) {
	before := testutil.ToFloat64(Oracle().claimFailures)
	EventEmitter{}.Emit(events.Typed{Evt: types.NewEvent("oracle.claim.failed")})
	EventEmitter{}.Emit(events.Typed{Evt: types.NewEvent("oracle.pair.created")})
	if got := testutil.ToFloat64(Oracle().claimFailures); got != before+1 {
		t.Fatalf("claim failures = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues("oracle.pair.created")); got < 1 {
		t.Fatalf("expected pair created event to be counted")
	}
}

func TestOracleMetricsRecordSettlement(t *testing.T) {
	m := Oracle()
	m.RecordSettlement("get_entry", big.NewInt(10), big.NewInt(5))
	if got := testutil.ToFloat64(m.charged.WithLabelValues("get_entry")); got < 10 {
		t.Fatalf("charged = %v", got)
	}
	m.ObserveCall("oracle", "get_entry", errors.New("boom"), time.Millisecond)
	if got := testutil.ToFloat64(m.calls.WithLabelValues("oracle", "get_entry", "aborted")); got < 1 {
		t.Fatalf("aborted calls = %v", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("oracle", "oracle_getEntry", -32010, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("oracle", "oracle_getEntry", "-32010")); got < 1 {
		t.Fatalf("errors = %v", got)
	}
}
