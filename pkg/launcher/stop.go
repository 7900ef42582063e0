package launcher

import (
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/mailsift/mailsift/pkg/types"
)

// stopPoll is how often StopMachine re-reads the status files while
// waiting out the grace window.
const stopPoll = time.Second

// StopMachine raises the cooperative stop flag for a machine tag (or
// every configured tag when empty) and escalates against local
// processes: SIGTERM first, SIGKILL for whatever still heartbeats
// after the grace window. Flags alone stop instances on other hosts;
// signals only reach this one.
func (l *Launcher) StopMachine(tag string) error {
	statuses, err := l.store.ListInstanceStatuses()
	if err != nil {
		return err
	}

	for _, t := range l.stopTags(tag, statuses) {
		if err := l.store.RequestStop(t); err != nil {
			return err
		}
		l.logger.Info().Str("machine", t).Msg("Stop flag raised")
	}

	targets := liveInstances(statuses, tag)
	if len(targets) == 0 {
		l.logger.Info().Msg("No live instances to signal")
		return nil
	}

	for _, pid := range pidsOf(targets) {
		if proc, ferr := os.FindProcess(pid); ferr == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}

	grace := l.cfg.Store.GraceWindow.Std()
	if grace <= 0 {
		grace = defaultGrace
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		time.Sleep(stopPoll)
		statuses, err = l.store.ListInstanceStatuses()
		if err != nil {
			return err
		}
		if len(liveInstances(statuses, tag)) == 0 {
			l.logger.Info().Msg("All instances stopped")
			return nil
		}
	}

	for _, pid := range pidsOf(liveInstances(statuses, tag)) {
		l.logger.Warn().Int("pid", pid).Msg("Grace window expired, killing")
		if proc, ferr := os.FindProcess(pid); ferr == nil {
			_ = proc.Signal(syscall.SIGKILL)
		}
	}
	return nil
}

// stopTags resolves which machine tags get a flag: the named one, or
// every tag the config and the live status files know about.
func (l *Launcher) stopTags(tag string, statuses []*types.InstanceStatus) []string {
	if tag != "" {
		return []string{tag}
	}
	seen := map[string]bool{}
	for t := range l.cfg.Machines {
		seen[t] = true
	}
	for _, st := range statuses {
		if st.MachineTag != "" {
			seen[st.MachineTag] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// liveInstances filters status files down to fresh running instances
// of the given tag (any tag when empty).
func liveInstances(statuses []*types.InstanceStatus, tag string) []*types.InstanceStatus {
	now := time.Now()
	var out []*types.InstanceStatus
	for _, st := range statuses {
		if tag != "" && st.MachineTag != tag {
			continue
		}
		if st.Running && now.Sub(st.UpdatedAt) <= staleAfter {
			out = append(out, st)
		}
	}
	return out
}

// pidsOf dedups the process IDs behind a set of instances; instances
// of one launch share a process.
func pidsOf(statuses []*types.InstanceStatus) []int {
	seen := map[int]bool{}
	var pids []int
	for _, st := range statuses {
		if st.PID > 0 && !seen[st.PID] {
			seen[st.PID] = true
			pids = append(pids, st.PID)
		}
	}
	sort.Ints(pids)
	return pids
}
