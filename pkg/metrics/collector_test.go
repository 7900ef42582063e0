package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/budget"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

func TestCollectorRefreshesStoreGauges(t *testing.T) {
	s, err := store.New(t.TempDir(), store.WithHostname("metrics-host"))
	require.NoError(t, err)

	for _, id := range []string{"item_a", "item_b"} {
		require.NoError(t, s.WriteArtifact(&types.Artifact{
			ItemID:  id,
			Phase:   1,
			DocKind: types.KindInvoice,
			Fields:  map[string]string{},
		}))
	}
	require.NoError(t, s.AppendFailure(&types.FailureRecord{
		ItemID: "item_c", Phase: 1, Reason: types.ReasonUnclassified,
	}))
	require.NoError(t, s.AppendFailure(&types.FailureRecord{
		ItemID: "item_d", Phase: 5, Reason: types.ReasonDeliveryFatal,
	}))
	require.NoError(t, s.AppendDeferred(&types.FailureRecord{
		ItemID: "item_e", Phase: 3, Reason: types.ReasonQuotaExhausted,
	}))

	now := time.Now()
	require.NoError(t, s.WriteInstanceStatus(&types.InstanceStatus{
		InstanceID: "fresh", Running: true, UpdatedAt: now,
	}))
	require.NoError(t, s.WriteInstanceStatus(&types.InstanceStatus{
		InstanceID: "stale", Running: true, UpdatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.WriteInstanceStatus(&types.InstanceStatus{
		InstanceID: "stopped", Running: false, UpdatedAt: now,
	}))

	ledger, err := budget.Open(filepath.Join(t.TempDir(), "budget.db"), 1000, 0, 10.0)
	require.NoError(t, err)
	defer ledger.Close()
	require.NoError(t, ledger.Spend(100))

	NewCollector(s).WithBudget(ledger).Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(ArtifactsTotal.WithLabelValues("1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ArtifactsTotal.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(FailuresTotal.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(FailuresTotal.WithLabelValues("5")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DeferredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(InstancesRunning))
	assert.Equal(t, 100.0, testutil.ToFloat64(BudgetTokensSpent))
	assert.Equal(t, 1.0, testutil.ToFloat64(BudgetCostUSD))
}

func TestPhaseLabel(t *testing.T) {
	assert.Equal(t, "3", Phase(3))
}
