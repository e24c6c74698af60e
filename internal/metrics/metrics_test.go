package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandoffCounters(t *testing.T) {
	before := testutil.ToFloat64(handoffs.WithLabelValues("rejected", "blockers"))
	HandoffRejected("blockers")
	HandoffRejected("blockers")
	after := testutil.ToFloat64(handoffs.WithLabelValues("rejected", "blockers"))
	if after-before != 2 {
		t.Errorf("rejected delta = %v, want 2", after-before)
	}
}

func TestSetRuleCounts_Resets(t *testing.T) {
	SetRuleCounts(map[string]int{"high": 3, "low": 1})
	SetRuleCounts(map[string]int{"medium": 2})

	if got := testutil.ToFloat64(ruleCount.WithLabelValues("medium")); got != 2 {
		t.Errorf("medium = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(ruleCount); got != 1 {
		t.Errorf("series = %d, want 1 after reset", got)
	}
}

func TestHandler_ServesKenningMetrics(t *testing.T) {
	ContextComputed("easy", 3*time.Millisecond)
	SetNodeCount(7)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"kenning_retrieval_contexts_total", "kenning_knowledge_nodes 7"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
