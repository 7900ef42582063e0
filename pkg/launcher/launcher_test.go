package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/types"
	"github.com/mailsift/mailsift/pkg/worker"
)

const invoiceBody = `Dobrý den,

v příloze zasíláme fakturu č. 2024-0123.

FAKTURA - daňový doklad
Variabilní symbol: 20240123
IČO: 12345678
DIČ: CZ12345678
Datum vystavení: 15.01.2024
Datum splatnosti: 29.01.2024
Celkem k úhradě: 1 210,50 Kč

Děkujeme za včasnou platbu.
`

func testConfig(t *testing.T, phaseKey string, assign *config.PhaseAssignment) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Root = t.TempDir()
	cfg.Machines = map[string]*config.MachineConfig{
		"m1": {Phases: map[string]*config.PhaseAssignment{phaseKey: assign}},
	}
	// Thresholds nothing on a test host can breach, so the monitor
	// never throttles the run.
	cfg.Resources.MaxCPUPercent = 100
	cfg.Resources.MaxRAMPercent = 100
	cfg.Resources.MaxGPUPercent = 100
	cfg.Resources.MinDiskFreeGiB = 0
	cfg.Resources.RecoveryPercent = 99
	return cfg
}

func newTestLauncher(t *testing.T, cfg *config.Config) *Launcher {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func seedItem(t *testing.T, l *Launcher, id, body string) {
	t.Helper()
	dir := filepath.Join(l.Store().InputDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	eml := "From: fakturace@dodavatel.cz\r\nTo: me@example.cz\r\nSubject: Faktura 2024-0123\r\n\r\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(dir, "message.eml"), []byte(eml), 0644))
}

func TestLaunchPhase1ProcessesRange(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 2})
	l := newTestLauncher(t, cfg)
	for _, id := range []string{"item_a", "item_b", "item_c", "item_d"} {
		seedItem(t, l, id, invoiceBody)
	}

	res, err := l.Launch(context.Background(), 1, "m1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Summary.Processed)
	assert.Equal(t, 0, res.Summary.Failed)
	assert.Equal(t, 0, res.ExitCode())
	require.Len(t, res.Plan.Instances, 2)

	for _, id := range []string{"item_a", "item_b", "item_c", "item_d"} {
		done, herr := l.Store().HasArtifact(id)
		require.NoError(t, herr)
		assert.True(t, done, id)
	}

	statuses, err := l.Store().ListInstanceStatuses()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.False(t, st.Running)
		assert.Equal(t, "m1", st.MachineTag)
	}
}

func TestLaunchUnknownMachineIsConfigError(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 1})
	l := newTestLauncher(t, cfg)

	_, err := l.Launch(context.Background(), 1, "nonesuch")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLaunchRejectsNonWorkerPhases(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 1})
	l := newTestLauncher(t, cfg)

	for _, phase := range []int{0, 4, 5} {
		_, err := l.Launch(context.Background(), phase, "m1")
		assert.ErrorIs(t, err, ErrConfig, "phase %d", phase)
	}
}

func TestLaunchClearsLeftoverStopFlag(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 1})
	l := newTestLauncher(t, cfg)
	seedItem(t, l, "item_a", invoiceBody)
	require.NoError(t, l.Store().RequestStop("m1"))

	res, err := l.Launch(context.Background(), 1, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Processed)
	assert.False(t, res.Summary.Stopped)
	assert.False(t, l.Store().StopRequested("m1"))
}

func TestLaunchEmptyInput(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 3})
	l := newTestLauncher(t, cfg)

	res, err := l.Launch(context.Background(), 1, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.Processed)
	assert.Equal(t, 0, res.ExitCode())
	assert.Empty(t, res.Plan.Instances)
}

func TestLaunchPhase2WritesMarkerWhenDrained(t *testing.T) {
	cfg := testConfig(t, "phase2", &config.PhaseAssignment{Instances: 1})
	l := newTestLauncher(t, cfg)
	seedItem(t, l, "item_a", invoiceBody)
	seedItem(t, l, "item_b", invoiceBody)

	// item_b failed phase 1 and was later resolved by an escalation
	// artifact, so the stream is fully consumed.
	require.NoError(t, l.Store().AppendFailure(&types.FailureRecord{
		ItemID: "item_b", Phase: 1, Reason: types.ReasonUnclassified,
	}))
	require.NoError(t, l.Store().WriteArtifact(&types.Artifact{
		ItemID: "item_b", Phase: 2, DocKind: types.KindInvoice, Fields: map[string]string{},
	}))

	res, err := l.Launch(context.Background(), 2, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.Processed)
	assert.True(t, res.Drained)
	assert.True(t, l.Store().MarkerExists(1))
}

func TestLaunchPhase2NoMarkerWhileWorkRemains(t *testing.T) {
	// The machine's range covers only slot 0; the pending item sits at
	// slot 1, so this launch cannot consume it.
	cfg := testConfig(t, "phase2", &config.PhaseAssignment{Instances: 1, RangeStart: 0, RangeEnd: 1})
	l := newTestLauncher(t, cfg)
	seedItem(t, l, "item_a", invoiceBody)
	seedItem(t, l, "item_b", invoiceBody)
	require.NoError(t, l.Store().AppendFailure(&types.FailureRecord{
		ItemID: "item_b", Phase: 1, Reason: types.ReasonUnclassified,
	}))

	res, err := l.Launch(context.Background(), 2, "m1")
	require.NoError(t, err)
	assert.False(t, res.Drained)
	assert.False(t, l.Store().MarkerExists(1))
}

func TestLaunchPhase3OpensBudgetLedger(t *testing.T) {
	cfg := testConfig(t, "phase3", &config.PhaseAssignment{Instances: 1})
	l := newTestLauncher(t, cfg)

	res, err := l.Launch(context.Background(), 3, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.Processed)

	_, err = os.Stat(l.Store().BudgetDBPath())
	assert.NoError(t, err)
}

func TestResultExitCode(t *testing.T) {
	tests := []struct {
		name    string
		summary worker.Summary
		want    int
	}{
		{"clean", worker.Summary{Processed: 5}, 0},
		{"partial", worker.Summary{Processed: 4, Failed: 1}, 2},
		{"stopped", worker.Summary{Processed: 2, Stopped: true}, 3},
		{"stopped wins over partial", worker.Summary{Failed: 3, Stopped: true}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Result{Summary: tt.summary}
			assert.Equal(t, tt.want, r.ExitCode())
		})
	}
}

func TestStopMachineRaisesFlags(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 1})
	cfg.Machines["m2"] = &config.MachineConfig{}
	l := newTestLauncher(t, cfg)

	require.NoError(t, l.StopMachine("m1"))
	assert.True(t, l.Store().StopRequested("m1"))
	assert.False(t, l.Store().StopRequested("m2"))
}

func TestStopMachineWithoutTagStopsAllConfigured(t *testing.T) {
	cfg := testConfig(t, "phase1", &config.PhaseAssignment{Instances: 1})
	cfg.Machines["m2"] = &config.MachineConfig{}
	l := newTestLauncher(t, cfg)

	require.NoError(t, l.StopMachine(""))
	assert.True(t, l.Store().StopRequested("m1"))
	assert.True(t, l.Store().StopRequested("m2"))
}
