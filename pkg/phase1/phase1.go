package phase1

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mailsift/mailsift/pkg/classify"
	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/envelope"
	"github.com/mailsift/mailsift/pkg/extract"
	"github.com/mailsift/mailsift/pkg/isdoc"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/ocr"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

// minTextLen is the smallest combined text that still carries enough
// signal for rule classification. Shorter items escalate to the model
// tiers instead of guessing.
const minTextLen = 100

// snippetLen bounds the text sample carried on failure records.
const snippetLen = 500

// Processor runs the rule-based analysis pass: OCR, keyword
// classification, regex field extraction and the structured XML payload
// for accounting kinds.
type Processor struct {
	store      *store.Store
	engine     *ocr.Client
	classifier *classify.Classifier
	pool       int
	logger     zerolog.Logger
}

// New creates a phase-1 processor. The classifier may be nil, in which
// case the built-in rule table is used.
func New(st *store.Store, engine *ocr.Client, classifier *classify.Classifier) *Processor {
	if classifier == nil {
		classifier = classify.Default()
	}
	return &Processor{
		store:      st,
		engine:     engine,
		classifier: classifier,
		pool:       2,
		logger:     log.WithComponent("phase1"),
	}
}

// FromConfig builds the OCR client out of the engine section and uses
// the built-in rule tables.
func FromConfig(st *store.Store, cfg config.OCRConfig) *Processor {
	engine := ocr.NewClient(cfg.URL)
	if cfg.Timeout.Std() > 0 {
		engine = engine.WithTimeout(cfg.Timeout.Std())
	}
	if cfg.MaxPages > 0 {
		engine = engine.WithMaxPages(cfg.MaxPages)
	}
	return New(st, engine, nil)
}

// WithOCRPool sets how many attachments of one item are OCRed at once.
func (p *Processor) WithOCRPool(n int) *Processor {
	if n > 0 {
		p.pool = n
	}
	return p
}

// Phase returns the pipeline phase this processor implements.
func (p *Processor) Phase() int { return 1 }

// Process analyzes one claimed item. It returns either an Artifact or
// a FailureRecord; an error means the item's input could not be read
// at all and the instance should treat the filesystem as suspect.
func (p *Processor) Process(ctx context.Context, item *types.WorkItem) (*types.Artifact, *types.FailureRecord, error) {
	env, err := envelope.ParseFile(item.EnvelopePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read envelope for %s: %w", item.ItemID, err)
	}

	// Notification traffic is recognized from the sender and subject
	// alone, so these items never hit the OCR engine or the length
	// gate no matter how short their body is.
	if classify.IsSystemNotification(env.From, env.Subject) {
		return p.emit(item, env, env.Body, classify.Result{
			Kind:       types.KindSystemNotification,
			Confidence: 0.99,
			Rule:       -1,
		})
	}

	text, err := p.collectText(ctx, item, env)
	if err != nil {
		reason := types.ReasonOCRError
		if errors.Is(err, ocr.ErrTimeout) {
			reason = types.ReasonOCRTimeout
		}
		p.logger.Warn().Str("item_id", item.ItemID).Err(err).Msg("ocr failed")
		return nil, p.failure(item, reason, env.Body), nil
	}

	if utf8.RuneCountInString(text) < minTextLen {
		return nil, p.failure(item, types.ReasonOCRInsufficient, text), nil
	}

	res := p.classifier.Classify(env, text)
	if res.Kind == types.KindUnknown {
		return nil, p.failure(item, types.ReasonUnclassified, text), nil
	}
	return p.emit(item, env, text, res)
}

// emit extracts fields, writes the XML payload for accounting kinds and
// assembles the Artifact.
func (p *Processor) emit(item *types.WorkItem, env *types.Envelope, text string, res classify.Result) (*types.Artifact, *types.FailureRecord, error) {
	fields := extract.Fields(text, env, res.Kind)

	contentMD5, err := p.store.ContentMD5(item)
	if err != nil {
		return nil, nil, err
	}

	if res.Kind.Accounting() {
		doc := isdoc.FromFields(res.Kind, fields, text)
		data, err := doc.XML()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to render document payload for %s: %w", item.ItemID, err)
		}
		if err := p.store.WriteXML(item.ItemID, data); err != nil {
			return nil, nil, err
		}
	}

	p.logger.Debug().
		Str("item_id", item.ItemID).
		Str("kind", string(res.Kind)).
		Float64("confidence", res.Confidence).
		Msg("classified")

	return &types.Artifact{
		ItemID:        item.ItemID,
		Phase:         1,
		DocKind:       res.Kind,
		Fields:        fields,
		RawTextSHA256: store.TextSHA256(text),
		ContentMD5:    contentMD5,
		Confidence:    res.Confidence,
	}, nil, nil
}

// collectText OCRs every attachment through a bounded pool and joins
// the body with the attachment texts in attachment order.
func (p *Processor) collectText(ctx context.Context, item *types.WorkItem, env *types.Envelope) (string, error) {
	parts := make([]string, len(item.Attachments)+1)
	parts[0] = env.Body

	if len(item.Attachments) > 0 {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(p.pool)
		for i, path := range item.Attachments {
			i, path := i, path
			g.Go(func() error {
				res, err := p.engine.ExtractFile(ctx, path)
				if err != nil {
					return fmt.Errorf("attachment %s: %w", filepath.Base(path), err)
				}
				parts[i+1] = res.Text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
	}

	joined := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			joined = append(joined, part)
		}
	}
	return strings.Join(joined, "\n\n"), nil
}

func (p *Processor) failure(item *types.WorkItem, reason types.FailureReason, text string) *types.FailureRecord {
	return &types.FailureRecord{
		ItemID:          item.ItemID,
		Phase:           1,
		Reason:          reason,
		LastTextSnippet: snippet(text),
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > snippetLen {
		return string(runes[:snippetLen])
	}
	return s
}
