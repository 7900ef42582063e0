// Package scheduler decides how a launch spreads its work.
//
// A machine's configuration names a slot range of the global input
// enumeration and an instance count per phase. Resolve reconciles that
// against the input actually present: open-ended ranges close at the
// input size, an instance count of zero defers to the resource
// monitor's recommendation, and the count is capped so no instance
// starts with an empty range. The result is a Plan of disjoint
// contiguous sub-ranges whose union is exactly the machine's range,
// which keeps the at-most-once claim protocol cheap: instances on the
// same machine never contend with each other, only with other hosts
// configured over an overlapping range.
package scheduler
