package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoverage(t *testing.T) {
	t.Parallel()

	res := HarvestResult{
		Info:    LocationInfo{DeclaredReviewCount: " 4 "},
		Reviews: []ReviewRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}
	cov, ok := res.Coverage()
	require.True(t, ok)
	require.InDelta(t, 0.75, cov, 1e-9)
	require.Equal(t, []string{"a", "b", "c"}, res.ReviewIDs())

	for _, declared := range []string{"", "0", "N/A", "-3"} {
		res.Info.DeclaredReviewCount = declared
		_, ok := res.Coverage()
		require.False(t, ok, "declared %q", declared)
	}
}

func TestOutcomeSucceeded(t *testing.T) {
	t.Parallel()

	require.True(t, OutcomeCommitted.Succeeded())
	for _, o := range []Outcome{OutcomeRolledBack, OutcomeDBRejected, OutcomeFailed} {
		require.False(t, o.Succeeded(), string(o))
	}
}

func TestNoOpRecordStore(t *testing.T) {
	t.Parallel()

	var store RecordStore = NoOpRecordStore{}
	require.NoError(t, store.Insert(t.Context(), CollectionRecord{URL: "u"}))
	require.NoError(t, store.Delete(t.Context(), "u"))
}
