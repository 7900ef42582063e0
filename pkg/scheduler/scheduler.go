package scheduler

import (
	"fmt"

	"github.com/mailsift/mailsift/pkg/config"
)

// Range is a half-open slot interval one worker instance covers.
type Range struct {
	Start int
	End   int
}

// Len returns the number of slots in the range.
func (r Range) Len() int { return r.End - r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Plan is the concrete work layout one launch runs: the machine's slot
// range cut into disjoint contiguous sub-ranges, one per instance.
type Plan struct {
	Machine   Range
	Instances []Range
}

// Resolve turns a machine's configured assignment into a plan against
// the current input size. A RangeEnd of zero runs to the end of the
// input; an Instances of zero takes the resource monitor's
// recommendation. Ranges never extend past the input, and the instance
// count never exceeds the slots available.
func Resolve(assign *config.PhaseAssignment, totalItems, recommended int) (*Plan, error) {
	if assign == nil {
		return nil, fmt.Errorf("no phase assignment")
	}

	start := assign.RangeStart
	end := assign.RangeEnd
	if end == 0 || end > totalItems {
		end = totalItems
	}
	if start > end {
		start = end
	}
	machine := Range{Start: start, End: end}

	instances := assign.Instances
	if instances == 0 {
		instances = recommended
	}
	if instances < 1 {
		instances = 1
	}
	if machine.Len() < instances {
		instances = machine.Len()
	}

	return &Plan{
		Machine:   machine,
		Instances: split(machine, instances),
	}, nil
}

// split cuts a range into n contiguous pieces of near-equal size. The
// remainder goes to the leading pieces, so sizes differ by at most one.
func split(r Range, n int) []Range {
	if n <= 0 || r.Len() == 0 {
		return nil
	}

	size := r.Len() / n
	extra := r.Len() % n

	out := make([]Range, 0, n)
	cursor := r.Start
	for i := 0; i < n; i++ {
		length := size
		if i < extra {
			length++
		}
		out = append(out, Range{Start: cursor, End: cursor + length})
		cursor += length
	}
	return out
}
