package store

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/mailsift/mailsift/pkg/types"
)

// ContentMD5 computes the content hash the whole pipeline dedups on:
// the MD5 of the delivered document bytes, which is the first
// attachment blob when the item has attachments and the raw envelope
// file otherwise. Every phase and the delivery client use this one
// function so the hash basis cannot drift.
func (s *Store) ContentMD5(item *types.WorkItem) (string, error) {
	path := item.EnvelopePath
	if len(item.Attachments) > 0 {
		path = item.Attachments[0]
	}
	if path == "" {
		return "", fmt.Errorf("item %s has no content to hash", item.ItemID)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PrimaryContentPath returns the file whose bytes ContentMD5 hashes,
// which is also the blob delivery uploads.
func (s *Store) PrimaryContentPath(item *types.WorkItem) string {
	if len(item.Attachments) > 0 {
		return item.Attachments[0]
	}
	return item.EnvelopePath
}

// TextSHA256 fingerprints the extracted text an analyzer saw.
func TextSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
