package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDays = []byte("days")

// ErrExhausted means the day's token or cost ceiling would be crossed.
// Items hitting it are deferred, not failed; the ledger resets itself
// at midnight.
var ErrExhausted = errors.New("budget: daily ceiling reached")

// Ledger is the persistent per-day token and cost book for the
// external model. Every call is checked against the ceilings before it
// is made and committed after, so a restart can never double-spend a
// day and a crash can never grant a free one.
type Ledger struct {
	db         *bolt.DB
	tokenLimit int64
	costLimit  float64
	costPer1K  float64

	now func() time.Time
}

// Day is one day's accumulated spend.
type Day struct {
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
	Calls   int     `json:"calls"`
}

// Open opens or creates the ledger database. A limit of zero means
// that ceiling is not enforced.
func Open(path string, tokenLimit int64, costLimitUSD, costPer1KUSD float64) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open budget database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDays)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create budget bucket: %w", err)
	}

	return &Ledger{
		db:         db,
		tokenLimit: tokenLimit,
		costLimit:  costLimitUSD,
		costPer1K:  costPer1KUSD,
		now:        time.Now,
	}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Allow checks whether a call expected to use estimateTokens fits in
// what is left of today. It mutates nothing; commit the real usage
// with Spend after the call.
func (l *Ledger) Allow(estimateTokens int64) error {
	day, err := l.Today()
	if err != nil {
		return err
	}
	if l.tokenLimit > 0 && day.Tokens+estimateTokens > l.tokenLimit {
		return ErrExhausted
	}
	if l.costLimit > 0 && day.CostUSD+l.cost(estimateTokens) > l.costLimit {
		return ErrExhausted
	}
	return nil
}

// Spend commits actual token usage to today's entry.
func (l *Ledger) Spend(tokens int64) error {
	key := []byte(l.today())
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDays)

		var day Day
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &day); err != nil {
				return fmt.Errorf("failed to decode budget day: %w", err)
			}
		}
		day.Tokens += tokens
		day.CostUSD += l.cost(tokens)
		day.Calls++

		data, err := json.Marshal(&day)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Today returns today's accumulated spend.
func (l *Ledger) Today() (Day, error) {
	var day Day
	err := l.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketDays).Get([]byte(l.today())); data != nil {
			return json.Unmarshal(data, &day)
		}
		return nil
	})
	if err != nil {
		return Day{}, fmt.Errorf("failed to read budget day: %w", err)
	}
	return day, nil
}

// Remaining reports how many tokens are left today. The second value
// is false when no token ceiling is configured.
func (l *Ledger) Remaining() (int64, bool, error) {
	if l.tokenLimit <= 0 {
		return 0, false, nil
	}
	day, err := l.Today()
	if err != nil {
		return 0, false, err
	}
	left := l.tokenLimit - day.Tokens
	if left < 0 {
		left = 0
	}
	return left, true, nil
}

// History returns the recorded days in key order, newest last.
func (l *Ledger) History() (map[string]Day, error) {
	out := make(map[string]Day)
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDays).ForEach(func(k, v []byte) error {
			var day Day
			if err := json.Unmarshal(v, &day); err != nil {
				return fmt.Errorf("failed to decode budget day %s: %w", k, err)
			}
			out[string(k)] = day
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) cost(tokens int64) float64 {
	return float64(tokens) / 1000 * l.costPer1K
}

func (l *Ledger) today() string {
	return l.now().Format("2006-01-02")
}
