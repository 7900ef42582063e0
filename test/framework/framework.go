// Package framework wires a complete pipeline against in-process stub
// collaborators: a real work store in a temp directory, fake OCR,
// inference and document services speaking the production wire
// formats, and launch helpers that run whole phases the way the CLI
// does. End-to-end tests drive this instead of a live engine fleet.
package framework

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/deliver"
	"github.com/mailsift/mailsift/pkg/launcher"
	"github.com/mailsift/mailsift/pkg/store"
)

// MachineTag is the tag every test pipeline launches under.
const MachineTag = "e2e"

// Pipeline is one test pipeline: a store rooted in a temp directory
// and the stub collaborators its phases call.
type Pipeline struct {
	T      *testing.T
	Config *config.Config
	Store  *store.Store

	OCR       *OCRStub
	Inference *InferenceStub
	External  *ExternalStub
	Documents *DocumentStub
}

// New builds a pipeline whose phases 1 through 3 all run on this
// machine, with resource thresholds nothing on a test host can breach
// so the monitor never throttles the run.
func New(t *testing.T) *Pipeline {
	t.Helper()

	p := &Pipeline{
		T:         t,
		OCR:       NewOCRStub(t),
		Inference: NewInferenceStub(t),
		External:  NewExternalStub(t),
		Documents: NewDocumentStub(t),
	}

	cfg := config.Default()
	cfg.Store.Root = t.TempDir()
	cfg.Machines = map[string]*config.MachineConfig{
		MachineTag: {Phases: map[string]*config.PhaseAssignment{
			"phase1": {Instances: 2},
			"phase2": {Instances: 1},
			"phase3": {Instances: 1},
		}},
	}

	cfg.OCR.URL = p.OCR.URL()
	cfg.OCR.Timeout = config.Duration(5 * time.Second)
	cfg.Inference.Small = config.ModelEndpoint{URL: p.Inference.URL(), Model: "small", Timeout: config.Duration(5 * time.Second)}
	cfg.Inference.Medium = config.ModelEndpoint{URL: p.Inference.URL(), Model: "medium", Timeout: config.Duration(5 * time.Second)}
	cfg.Inference.Large = config.ModelEndpoint{URL: p.Inference.URL(), Model: "large", Timeout: config.Duration(5 * time.Second)}
	cfg.External.URL = p.External.URL()
	cfg.External.Token = "e2e-external-token"
	cfg.External.Model = "external-large"
	cfg.External.RetryAttempts = 1
	cfg.External.RetryInitial = config.Duration(10 * time.Millisecond)
	cfg.Delivery.URL = p.Documents.URL()
	cfg.Delivery.Token = "e2e-token"
	cfg.Delivery.RatePerSecond = 0
	cfg.Delivery.RetryAttempts = 1
	cfg.Delivery.RetryInitial = config.Duration(10 * time.Millisecond)

	cfg.Resources.MaxCPUPercent = 100
	cfg.Resources.MaxRAMPercent = 100
	cfg.Resources.MaxGPUPercent = 100
	cfg.Resources.MinDiskFreeGiB = 0
	cfg.Resources.RecoveryPercent = 99

	st, err := store.New(cfg.Store.Root)
	require.NoError(t, err)

	p.Config = cfg
	p.Store = st
	return p
}

// Seed writes one input item: a directory under input/ holding a
// minimal RFC 5322 envelope with the given sender, subject and body.
func (p *Pipeline) Seed(itemID, from, subject, body string) {
	p.T.Helper()
	dir := filepath.Join(p.Store.InputDir(), itemID)
	require.NoError(p.T, os.MkdirAll(dir, 0755))
	eml := "From: " + from + "\r\n" +
		"To: archiv@example.cz\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 15 Jan 2024 10:00:00 +0100\r\n" +
		"\r\n" + body + "\r\n"
	require.NoError(p.T, os.WriteFile(filepath.Join(dir, "message.eml"), []byte(eml), 0644))
}

// SeedAttachment drops an attachment file beside an already seeded
// item's envelope. Phase 1 sends every attachment through OCR.
func (p *Pipeline) SeedAttachment(itemID, name string, data []byte) {
	p.T.Helper()
	path := filepath.Join(p.Store.InputDir(), itemID, name)
	require.NoError(p.T, os.WriteFile(path, data, 0644))
}

// Launch runs one phase's instance fleet to completion and returns
// the launcher's result, exactly as `mailsift launch` would.
func (p *Pipeline) Launch(phase int) *launcher.Result {
	p.T.Helper()
	l, err := launcher.New(p.Config)
	require.NoError(p.T, err)
	res, err := l.Launch(context.Background(), phase, MachineTag)
	require.NoError(p.T, err)
	return res
}

// Deliver runs one delivery pass against the document stub with a
// fresh ledger handle, the way `mailsift deliver` opens one per run.
func (p *Pipeline) Deliver() *deliver.Summary {
	p.T.Helper()
	ledger, err := deliver.OpenLedger(p.Store.DeliveryDBPath())
	require.NoError(p.T, err)
	defer ledger.Close()

	sum, err := deliver.FromConfig(p.Store, p.Config.Delivery, ledger).Run(context.Background())
	require.NoError(p.T, err)
	return sum
}
