// Package resource watches the host while worker instances run.
//
// A Monitor samples CPU, RAM, GPU and disk signals on a short
// interval and keeps a throttle flag. Any limit breach raises the
// flag at once; clearing it requires every signal to stay below the
// recovery threshold for a full cooldown, so a host bouncing around
// its limits does not flap workers on and off.
//
// Workers never get interrupted mid-item. They check Throttled at
// item boundaries and idle until the flag clears, which keeps OCR
// and model calls from being killed halfway and keeps the claim
// protocol simple. Transitions also go out on the event bus for the
// monitor view and the metrics bridge.
//
// The Monitor also sizes the host: one instance per two cores and
// per four GiB of RAM, scaled down by current load and by GPU
// headroom. The launcher uses that recommendation when a machine's
// configured instance count is zero.
package resource
