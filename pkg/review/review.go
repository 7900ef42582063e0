package review

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailsift/mailsift/pkg/envelope"
	"github.com/mailsift/mailsift/pkg/extract"
	"github.com/mailsift/mailsift/pkg/isdoc"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

const snippetLen = 500

// ErrUnknownField rejects a decision that names a field outside the
// extraction contract.
var ErrUnknownField = errors.New("review: unknown field name")

// Manager is the phase-4 surface. Humans see what the automated phases
// could not settle and answer with a kind plus optional field
// overrides; the answer becomes a regular Artifact so delivery treats
// it like any other.
type Manager struct {
	store  *store.Store
	logger zerolog.Logger
}

// New creates a review manager over the shared store.
func New(st *store.Store) *Manager {
	return &Manager{store: st, logger: log.WithComponent("review")}
}

// Pending lists the phase-3 failures still lacking an Artifact or a
// recorded decision, in arrival order. Each record carries the last
// text snippet for display.
func (m *Manager) Pending() ([]*types.FailureRecord, error) {
	records, err := m.store.ReadFailures(3)
	if err != nil {
		return nil, err
	}
	var out []*types.FailureRecord
	for _, rec := range records {
		done, err := m.store.HasArtifact(rec.ItemID)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		// Rejections leave no artifact, only the decision file.
		decided, err := m.store.LoadDecision(rec.ItemID)
		if err != nil {
			return nil, err
		}
		if decided == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Apply settles one item with a human decision. A classification
// becomes a phase-4 Artifact at full confidence; a rejection becomes a
// terminal failure record. The item is claimed for the duration so two
// reviewers cannot answer the same item.
func (m *Manager) Apply(d *types.ReviewDecision) (*types.Artifact, error) {
	if d.ItemID == "" {
		return nil, fmt.Errorf("review: decision without item ID")
	}
	if !d.Reject {
		if !d.Kind.Valid() || d.Kind == types.KindUnknown {
			return nil, fmt.Errorf("review: %q is not a usable document kind", d.Kind)
		}
		for name := range d.Fields {
			if _, ok := types.FieldTypes[name]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
			}
		}
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	if d.Reviewer == "" {
		d.Reviewer = m.store.Hostname()
	}

	if err := m.store.Claim(4, d.ItemID); err != nil {
		return nil, err
	}
	defer m.store.Release(4, d.ItemID)

	item, err := m.store.Item(d.ItemID)
	if err != nil {
		return nil, err
	}
	env, err := envelope.ParseFile(item.EnvelopePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope for %s: %w", d.ItemID, err)
	}

	if d.Reject {
		rec := &types.FailureRecord{
			ItemID:          d.ItemID,
			Phase:           4,
			Reason:          types.ReasonReviewRejected,
			LastTextSnippet: snippet(env.Body),
		}
		if err := m.store.AppendFailure(rec); err != nil {
			return nil, err
		}
		if err := m.store.WriteDecision(d); err != nil {
			return nil, err
		}
		m.logger.Info().Str("item_id", d.ItemID).Str("reviewer", d.Reviewer).Msg("item rejected")
		return nil, nil
	}

	art, err := m.build(item, env, d)
	if err != nil {
		return nil, err
	}
	if err := m.store.WriteArtifact(art); err != nil {
		return nil, err
	}
	if err := m.store.WriteDecision(d); err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("item_id", d.ItemID).
		Str("kind", string(d.Kind)).
		Str("reviewer", d.Reviewer).
		Msg("item classified by review")
	return art, nil
}

// build assembles the phase-4 Artifact. The regex baseline fills the
// field contract, the envelope stamps the mail metadata, and the
// human's overrides win over everything.
func (m *Manager) build(item *types.WorkItem, env *types.Envelope, d *types.ReviewDecision) (*types.Artifact, error) {
	fields := extract.Fields(env.Body, env, d.Kind)
	if !env.Date.IsZero() {
		fields[types.FieldDatumDokumentu] = env.Date.Format("2006-01-02")
	}
	for name, val := range d.Fields {
		if val != "" {
			fields[name] = val
		}
	}
	fields[types.FieldDocTyp] = string(d.Kind)

	contentMD5, err := m.store.ContentMD5(item)
	if err != nil {
		return nil, err
	}

	if d.Kind.Accounting() && !m.store.XMLExists(item.ItemID) {
		doc := isdoc.FromFields(d.Kind, fields, env.Body)
		data, err := doc.XML()
		if err != nil {
			return nil, fmt.Errorf("failed to render document payload for %s: %w", item.ItemID, err)
		}
		if err := m.store.WriteXML(item.ItemID, data); err != nil {
			return nil, err
		}
	}

	return &types.Artifact{
		ItemID:        item.ItemID,
		Phase:         4,
		DocKind:       d.Kind,
		Fields:        fields,
		RawTextSHA256: store.TextSHA256(env.Body),
		ContentMD5:    contentMD5,
		Confidence:    1.0,
	}, nil
}

func snippet(s string) string {
	if runes := []rune(s); len(runes) > snippetLen {
		return string(runes[:snippetLen])
	}
	return s
}
