package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mailsift/mailsift/pkg/types"
)

// DefaultStaleLockTTL is how old a lock's mtime must be before another
// worker may reclaim it.
const DefaultStaleLockTTL = 10 * time.Minute

// envelopeFileName is the canonical envelope file inside an item dir.
const envelopeFileName = "message.eml"

// Store is the shared work store: a directory tree reachable from every
// host that is the single source of truth for what is done. All
// cross-host coordination goes through it; there is no broker.
type Store struct {
	root     string
	staleTTL time.Duration
	hostname string
}

// Option configures a Store.
type Option func(*Store)

// WithStaleLockTTL overrides the stale-lock TTL.
func WithStaleLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.staleTTL = ttl
		}
	}
}

// WithHostname overrides the owner identifier written into locks.
func WithHostname(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.hostname = name
		}
	}
}

// New opens (and lays out) the store under root. Creating the layout is
// idempotent, so every worker on every host calls New with the same
// root.
func New(root string, opts ...Option) (*Store, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	s := &Store{
		root:     root,
		staleTTL: DefaultStaleLockTTL,
		hostname: hostname,
	}
	for _, opt := range opts {
		opt(s)
	}

	dirs := []string{
		s.InputDir(),
		filepath.Join(root, "failed"),
		filepath.Join(root, "xml"),
		filepath.Join(root, "markers"),
		filepath.Join(root, "status"),
		filepath.Join(root, "control"),
		filepath.Join(root, "deferred"),
		filepath.Join(root, "budget"),
		filepath.Join(root, "delivered"),
		filepath.Join(root, "review"),
	}
	for phase := 1; phase <= types.PhaseCount; phase++ {
		dirs = append(dirs,
			filepath.Join(root, "results", phaseDir(phase)),
			filepath.Join(root, "locks", phaseDir(phase)),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the store root path.
func (s *Store) Root() string {
	return s.root
}

// Hostname returns the owner identifier this store writes into locks.
func (s *Store) Hostname() string {
	return s.hostname
}

// InputDir returns the input tree path.
func (s *Store) InputDir() string {
	return filepath.Join(s.root, "input")
}

// BudgetDBPath returns the path of the bbolt day-ledger database.
func (s *Store) BudgetDBPath() string {
	return filepath.Join(s.root, "budget", "budget.db")
}

// DeliveryDBPath returns the path of the bbolt delivery ledger.
func (s *Store) DeliveryDBPath() string {
	return filepath.Join(s.root, "delivered", "delivery.db")
}

func phaseDir(phase int) string {
	return fmt.Sprintf("phase%d", phase)
}

func (s *Store) resultPath(phase int, itemID string) string {
	return filepath.Join(s.root, "results", phaseDir(phase), itemID+".json")
}

func (s *Store) lockPath(phase int, itemID string) string {
	return filepath.Join(s.root, "locks", phaseDir(phase), itemID)
}

func (s *Store) failurePath(phase int) string {
	return filepath.Join(s.root, "failed", phaseDir(phase)+".jsonl")
}

func (s *Store) deferredPath() string {
	return filepath.Join(s.root, "deferred", "phase3.jsonl")
}

func (s *Store) markerPath(phase int) string {
	return filepath.Join(s.root, "markers", phaseDir(phase)+".done")
}

func (s *Store) xmlPath(itemID string) string {
	return filepath.Join(s.root, "xml", itemID+".xml")
}

func (s *Store) statusPath(instanceID string) string {
	return filepath.Join(s.root, "status", instanceID+".json")
}

func (s *Store) stopFlagPath(machineTag string) string {
	return filepath.Join(s.root, "control", "stop."+machineTag)
}

// Scan enumerates the input tree into the stable, globally ordered item
// list used for range partitioning. Every host sees the same directory
// names, so slots are identical everywhere.
func (s *Store) Scan() ([]*types.WorkItem, error) {
	entries, err := os.ReadDir(s.InputDir())
	if err != nil {
		return nil, fmt.Errorf("failed to scan input tree: %w", err)
	}

	var items []*types.WorkItem
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		item, err := s.loadItem(entry.Name())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	for i, item := range items {
		item.Slot = i
	}
	return items, nil
}

// Item loads a single work item by ID, for phases that consume failure
// streams and need the item's input files back.
func (s *Store) Item(itemID string) (*types.WorkItem, error) {
	dir := filepath.Join(s.InputDir(), itemID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to locate item %s: %w", itemID, err)
	}
	return s.loadItem(itemID)
}

func (s *Store) loadItem(itemID string) (*types.WorkItem, error) {
	dir := filepath.Join(s.InputDir(), itemID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read item %s: %w", itemID, err)
	}

	item := &types.WorkItem{
		ItemID: itemID,
		Dir:    dir,
	}
	var attachments []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == envelopeFileName {
			item.EnvelopePath = filepath.Join(dir, name)
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		attachments = append(attachments, filepath.Join(dir, name))
	}
	sort.Strings(attachments)
	item.Attachments = attachments
	return item, nil
}
