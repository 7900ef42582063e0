package deliver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/normalize"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

const snippetLen = 500

// Deliverer pushes finished Artifacts to the document service. The
// whole pass is idempotent: the local receipt ledger short-circuits
// reruns, the service's checksum lookup catches deliveries from other
// hosts, and every create is a get-or-create.
type Deliverer struct {
	store  *store.Store
	client *Client
	ledger *Ledger
	norm   *normalize.Normalizer

	fanOut       int
	attempts     int
	retryInitial time.Duration

	logger zerolog.Logger
}

// Summary is the outcome of one delivery pass.
type Summary struct {
	Delivered int
	Updated   int
	Skipped   int
	Failed    int
}

// New creates a deliverer with default fan-out and retry settings.
func New(st *store.Store, client *Client, ledger *Ledger) *Deliverer {
	return &Deliverer{
		store:        st,
		client:       client,
		ledger:       ledger,
		norm:         normalize.New(),
		fanOut:       4,
		attempts:     3,
		retryInitial: time.Second,
		logger:       log.WithComponent("deliver"),
	}
}

// FromConfig builds the client and pass settings out of the delivery
// section. The ledger is opened by the caller because its path lives
// on the shared store.
func FromConfig(st *store.Store, cfg config.DeliveryConfig, ledger *Ledger) *Deliverer {
	client := NewClient(cfg.URL, cfg.Token).WithRateLimit(cfg.RatePerSecond, cfg.Burst)
	d := New(st, client, ledger)
	if cfg.FanOut > 0 {
		d.fanOut = cfg.FanOut
	}
	if cfg.RetryAttempts > 0 {
		d.attempts = cfg.RetryAttempts
	}
	if cfg.RetryInitial.Std() > 0 {
		d.retryInitial = cfg.RetryInitial.Std()
	}
	return d
}

// WithNormalizer replaces the correspondent normalizer, usually to
// load extra known mappings from configuration.
func (d *Deliverer) WithNormalizer(n *normalize.Normalizer) *Deliverer {
	d.norm = n
	return d
}

// Run delivers every Artifact not yet on the service. Items fan out to
// a bounded group; the pass keeps going past individual failures and
// reports them in the summary and the phase-5 failure stream.
func (d *Deliverer) Run(ctx context.Context) (*Summary, error) {
	artifacts, err := d.store.ListArtifacts()
	if err != nil {
		return nil, err
	}

	fieldIDs, err := d.client.EnsureCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare custom fields: %w", err)
	}

	var mu sync.Mutex
	summary := &Summary{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.fanOut)
	for _, art := range artifacts {
		art := art
		g.Go(func() error {
			outcome, err := d.deliverOne(ctx, art, fieldIDs)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				d.logger.Warn().Str("item_id", art.ItemID).Err(err).Msg("delivery failed")
				rec := &types.FailureRecord{
					ItemID:          art.ItemID,
					Phase:           5,
					Reason:          types.ReasonDeliveryFatal,
					LastTextSnippet: snippet(err.Error()),
				}
				if aerr := d.store.AppendFailure(rec); aerr != nil {
					return aerr
				}
			case outcome == outcomeDelivered:
				summary.Delivered++
			case outcome == outcomeUpdated:
				summary.Updated++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	d.logger.Info().
		Int("delivered", summary.Delivered).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("delivery pass finished")
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeUpdated
)

func (d *Deliverer) deliverOne(ctx context.Context, art *types.Artifact, fieldIDs map[string]int) (outcome, error) {
	receipt, err := d.ledger.Delivered(art.ContentMD5)
	if err != nil {
		return outcomeSkipped, err
	}
	if receipt != nil {
		return outcomeSkipped, nil
	}

	// The service may hold the content already, delivered by another
	// host or an earlier run with a lost ledger.
	var existingID int
	var exists bool
	err = d.retry(ctx, func() error {
		var lerr error
		existingID, exists, lerr = d.client.FindDocumentByChecksum(ctx, art.ContentMD5)
		return lerr
	})
	if err != nil {
		return outcomeSkipped, err
	}

	if exists {
		if err := d.patchFields(ctx, existingID, art, fieldIDs); err != nil {
			return outcomeSkipped, err
		}
		if err := d.ledger.Record(&Receipt{
			ItemID:      art.ItemID,
			ContentMD5:  art.ContentMD5,
			DocumentRef: strconv.Itoa(existingID),
		}); err != nil {
			return outcomeSkipped, err
		}
		return outcomeUpdated, nil
	}

	ref, err := d.upload(ctx, art, fieldIDs)
	if err != nil {
		return outcomeSkipped, err
	}
	if err := d.ledger.Record(&Receipt{
		ItemID:      art.ItemID,
		ContentMD5:  art.ContentMD5,
		DocumentRef: ref,
	}); err != nil {
		return outcomeSkipped, err
	}
	return outcomeDelivered, nil
}

func (d *Deliverer) upload(ctx context.Context, art *types.Artifact, fieldIDs map[string]int) (string, error) {
	item, err := d.store.Item(art.ItemID)
	if err != nil {
		return "", fmt.Errorf("failed to locate item %s: %w", art.ItemID, err)
	}
	blobPath := d.store.PrimaryContentPath(item)
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return "", fmt.Errorf("failed to read document blob for %s: %w", art.ItemID, err)
	}

	var correspondentID int
	if name := d.norm.DisplayName(senderName(art.Fields)); name != "" {
		err = d.retry(ctx, func() error {
			var cerr error
			correspondentID, cerr = d.client.GetOrCreateCorrespondent(ctx, name)
			return cerr
		})
		if err != nil {
			return "", err
		}
	}

	label := art.DocKind.DisplayName()
	var docTypeID int
	err = d.retry(ctx, func() error {
		var terr error
		docTypeID, terr = d.client.GetOrCreateDocumentType(ctx, label)
		return terr
	})
	if err != nil {
		return "", err
	}

	var tags []int
	err = d.retry(ctx, func() error {
		tags = tags[:0]
		id, terr := d.client.GetOrCreateTag(ctx, label)
		if terr != nil {
			return terr
		}
		if id > 0 {
			tags = append(tags, id)
		}
		if category := art.Fields[types.FieldKategorie]; category != "" {
			id, terr = d.client.GetOrCreateTag(ctx, category)
			if terr != nil {
				return terr
			}
			if id > 0 {
				tags = append(tags, id)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	up := Upload{
		Title:         title(art),
		Filename:      filepath.Base(blobPath),
		Blob:          blob,
		Correspondent: correspondentID,
		DocumentType:  docTypeID,
		Tags:          tags,
	}

	var ref string
	err = d.retry(ctx, func() error {
		var uerr error
		ref, uerr = d.client.UploadDocument(ctx, up)
		return uerr
	})
	if errors.Is(err, ErrDuplicate) {
		// Someone else uploaded the same content between our checksum
		// probe and the post. Fold onto the existing document.
		id, found, ferr := d.client.FindDocumentByChecksum(ctx, art.ContentMD5)
		if ferr != nil {
			return "", ferr
		}
		if found {
			if perr := d.patchFields(ctx, id, art, fieldIDs); perr != nil {
				return "", perr
			}
			return strconv.Itoa(id), nil
		}
		return "conflict", nil
	}
	if err != nil {
		return "", err
	}

	// Async ingest answers with a task reference, not a document ID;
	// the field patch then has no target. Field updates for those
	// documents land on the next pass via the checksum branch.
	if id, aerr := strconv.Atoi(ref); aerr == nil {
		if perr := d.patchFields(ctx, id, art, fieldIDs); perr != nil {
			return "", perr
		}
	}
	return ref, nil
}

func (d *Deliverer) patchFields(ctx context.Context, docID int, art *types.Artifact, fieldIDs map[string]int) error {
	values := FieldValues(art.Fields, fieldIDs)
	return d.retry(ctx, func() error {
		return d.client.SetCustomFields(ctx, docID, values)
	})
}

// FieldValues coerces the artifact's string fields into the service's
// typed custom-field values. Floats parse or drop; dates truncate to
// day precision or drop; empties drop.
func FieldValues(fields map[string]string, fieldIDs map[string]int) []FieldValue {
	var out []FieldValue
	for _, name := range types.FieldNames {
		raw, ok := fields[name]
		if !ok || raw == "" {
			continue
		}
		id, ok := fieldIDs[name]
		if !ok {
			continue
		}
		switch types.FieldTypes[name] {
		case types.FieldTypeFloat:
			f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
			if err != nil {
				continue
			}
			out = append(out, FieldValue{Field: id, Value: f})
		case types.FieldTypeDate:
			if len(raw) < 10 {
				continue
			}
			out = append(out, FieldValue{Field: id, Value: raw[:10]})
		default:
			out = append(out, FieldValue{Field: id, Value: raw})
		}
	}
	return out
}

// retry reruns an operation on transient failures with exponential
// backoff. Anything the service rejected outright passes through.
func (d *Deliverer) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		var status *StatusError
		if errors.As(err, &status) && !status.Transient() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrDuplicate) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryInitial
	var retries uint64
	if d.attempts > 1 {
		retries = uint64(d.attempts - 1)
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}

// senderName picks the correspondent source: the extracted
// counterparty first, then sender company or person, then the mail
// From header.
func senderName(fields map[string]string) string {
	for _, key := range []string{
		types.FieldProtistranaNazev,
		types.FieldOdFirma,
		types.FieldOdOsoba,
	} {
		if v := fields[key]; v != "" {
			return v
		}
	}
	from := fields[types.FieldEmailFrom]
	if i := strings.IndexByte(from, '<'); i > 0 {
		return strings.Trim(strings.TrimSpace(from[:i]), `"`)
	}
	if i := strings.IndexByte(from, '@'); i > 0 && !strings.Contains(from, " ") {
		return from[:i]
	}
	return from
}

// title picks the document title: subject, then the summary, then the
// item ID.
func title(art *types.Artifact) string {
	if v := art.Fields[types.FieldEmailSubject]; v != "" {
		return v
	}
	if v := art.Fields[types.FieldAISummary]; v != "" {
		return v
	}
	return art.ItemID
}

func snippet(s string) string {
	if runes := []rune(s); len(runes) > snippetLen {
		return string(runes[:snippetLen])
	}
	return s
}
