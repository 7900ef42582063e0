package api

import (
	"time"

	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

// freshWindow is how recent a status file's heartbeat must be for its
// instance to count as running. Matches the heartbeat interval with
// room for two missed beats.
const freshWindow = 15 * time.Second

// PhaseStatus is one phase's ledger totals.
type PhaseStatus struct {
	Phase     int  `json:"phase"`
	Artifacts int  `json:"artifacts"`
	Failures  int  `json:"failures"`
	Done      bool `json:"done"`
}

// InstanceView is one instance's status file plus the liveness verdict
// derived from its heartbeat age.
type InstanceView struct {
	*types.InstanceStatus
	Fresh bool `json:"fresh"`
}

// Status is the fleet view assembled from the shared store: what every
// machine's instances have reported and how far each phase has come.
type Status struct {
	InputItems int            `json:"input_items"`
	Phases     []PhaseStatus  `json:"phases"`
	Deferred   int            `json:"deferred"`
	Running    int            `json:"running_instances"`
	Instances  []InstanceView `json:"instances"`
}

// GatherStatus reads the store's ledgers into a Status. It never
// claims anything; reading is safe beside live workers.
func GatherStatus(st *store.Store) (*Status, error) {
	items, err := st.Scan()
	if err != nil {
		return nil, err
	}

	status := &Status{InputItems: len(items)}
	for phase := 1; phase <= types.PhaseCount+1; phase++ {
		ps := PhaseStatus{Phase: phase, Done: st.MarkerExists(phase)}
		if phase <= types.PhaseCount {
			// Phase 5 delivers; only phases 1-4 write artifacts.
			if ps.Artifacts, err = st.CountArtifacts(phase); err != nil {
				return nil, err
			}
		}
		if ps.Failures, err = st.CountFailures(phase); err != nil {
			return nil, err
		}
		status.Phases = append(status.Phases, ps)
	}

	deferred, err := st.ReadDeferred()
	if err != nil {
		return nil, err
	}
	status.Deferred = len(deferred)

	statuses, err := st.ListInstanceStatuses()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, is := range statuses {
		view := InstanceView{
			InstanceStatus: is,
			Fresh:          is.Running && now.Sub(is.UpdatedAt) <= freshWindow,
		}
		if view.Fresh {
			status.Running++
		}
		status.Instances = append(status.Instances, view)
	}
	return status, nil
}
