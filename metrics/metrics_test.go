package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLintMetrics(t *testing.T) {
	ExtractionsTotal.WithLabelValues("header", "ok")
	VerificationsTotal.WithLabelValues("memory", "ok")
	LookupDuration.WithLabelValues("memory", "ok")

	for _, c := range []prometheus.Collector{
		ExtractionsTotal,
		VerificationsTotal,
		LookupDuration,
		ChallengeEncodeFailuresTotal,
	} {
		problems, err := testutil.CollectAndLint(c)
		if err != nil {
			t.Fatalf("lint: %v", err)
		}
		for _, p := range problems {
			t.Errorf("%s: %s", p.Metric, p.Text)
		}
	}
}

func TestLookupResult(t *testing.T) {
	tests := []struct {
		err      error
		notFound bool
		want     string
	}{
		{nil, false, "ok"},
		{errors.New("gone"), true, "not_found"},
		{errors.New("boom"), false, "error"},
	}
	for _, tt := range tests {
		if got := LookupResult(tt.err, tt.notFound); got != tt.want {
			t.Errorf("LookupResult(%v, %v) = %q, want %q", tt.err, tt.notFound, got, tt.want)
		}
	}
}
