package deliver

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDelivered = []byte("delivered")

// Receipt records one completed delivery, keyed by content hash.
type Receipt struct {
	ItemID      string    `json:"item_id"`
	ContentMD5  string    `json:"content_md5"`
	DocumentRef string    `json:"document_ref"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Ledger remembers delivered content hashes so a rerun never touches
// the network for work already done. It lives on the shared store, so
// any host's rerun sees every host's deliveries.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens or creates the delivery ledger.
func OpenLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open delivery ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDelivered)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init delivery ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the ledger file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Delivered returns the receipt for a content hash, or nil when the
// content was never delivered.
func (l *Ledger) Delivered(md5sum string) (*Receipt, error) {
	var receipt *Receipt
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDelivered).Get([]byte(md5sum))
		if data == nil {
			return nil
		}
		var r Receipt
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("failed to decode receipt for %s: %w", md5sum, err)
		}
		receipt = &r
		return nil
	})
	return receipt, err
}

// Record commits a delivery receipt.
func (l *Ledger) Record(r *Receipt) error {
	if r.DeliveredAt.IsZero() {
		r.DeliveredAt = time.Now()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode receipt for %s: %w", r.ItemID, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDelivered).Put([]byte(r.ContentMD5), data)
	})
}

// Count returns how many distinct content hashes were delivered.
func (l *Ledger) Count() (int, error) {
	n := 0
	err := l.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketDelivered).Stats().KeyN
		return nil
	})
	return n, err
}
