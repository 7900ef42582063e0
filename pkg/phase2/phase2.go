package phase2

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mailsift/mailsift/pkg/classify"
	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/envelope"
	"github.com/mailsift/mailsift/pkg/extract"
	"github.com/mailsift/mailsift/pkg/inference"
	"github.com/mailsift/mailsift/pkg/isdoc"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

// Confidence assigned by how far the escalation had to go. Tier
// agreement is worth more than a single large-model verdict, and a
// force-classified leftover is worth the least.
const (
	confidenceAgreement = 0.9
	confidenceLarge     = 0.85
	confidenceForced    = 0.6
)

const snippetLen = 500

// Processor runs the hierarchical inference pass over phase-1 leftovers.
// Three model tiers answer the same prompt; the state machine walks
// SMALL, MEDIUM, LARGE and stops at the first defensible verdict.
type Processor struct {
	store  *store.Store
	small  *inference.Client
	medium *inference.Client
	large  *inference.Client
	logger zerolog.Logger
}

// New creates a phase-2 processor from three tier clients.
func New(st *store.Store, small, medium, large *inference.Client) *Processor {
	return &Processor{
		store:  st,
		small:  small,
		medium: medium,
		large:  large,
		logger: log.WithComponent("phase2"),
	}
}

// FromConfig builds the tier clients out of the inference section.
func FromConfig(st *store.Store, cfg config.InferenceConfig) *Processor {
	mk := func(ep config.ModelEndpoint) *inference.Client {
		return inference.NewClient(ep.URL, ep.Model).WithTimeout(ep.Timeout.Std())
	}
	return New(st, mk(cfg.Small), mk(cfg.Medium), mk(cfg.Large))
}

// Phase returns the pipeline phase this processor implements.
func (p *Processor) Phase() int { return 2 }

// Process escalates one item through the model tiers. The returned
// error only covers unreadable input; model trouble becomes a
// FailureRecord for the next phase.
func (p *Processor) Process(ctx context.Context, item *types.WorkItem) (*types.Artifact, *types.FailureRecord, error) {
	env, err := envelope.ParseFile(item.EnvelopePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read envelope for %s: %w", item.ItemID, err)
	}

	prompt := inference.ClassifyPrompt(env, nil)
	outcome := p.escalate(ctx, prompt)

	if outcome.reason != "" {
		p.logger.Warn().
			Str("item_id", item.ItemID).
			Str("reason", string(outcome.reason)).
			Msg("escalation exhausted")
		return nil, &types.FailureRecord{
			ItemID:          item.ItemID,
			Phase:           2,
			Reason:          outcome.reason,
			LastTextSnippet: snippet(env.Body),
		}, nil
	}

	return p.emit(item, env, outcome)
}

// outcome is the terminal state of one escalation run. Either reason is
// set (FAILED) or verdict holds the winning answer (DONE).
type outcome struct {
	verdict    types.Verdict
	confidence float64
	trace      []types.Verdict
	reason     types.FailureReason
}

// escalate walks the tier state machine. Agreement compares kinds
// only; the winning fields come from the earliest successful tier, and
// the large tier overrides both cheaper ones outright.
func (p *Processor) escalate(ctx context.Context, prompt string) outcome {
	var trace []types.Verdict

	small := p.call(ctx, p.small, prompt)
	trace = append(trace, small.verdict)

	medium := p.call(ctx, p.medium, prompt)
	trace = append(trace, medium.verdict)

	if small.ok && medium.ok && small.verdict.Kind == medium.verdict.Kind {
		return outcome{verdict: small.verdict, confidence: confidenceAgreement, trace: trace}
	}

	disagreed := small.ok && medium.ok

	large := p.call(ctx, p.large, prompt)
	trace = append(trace, large.verdict)

	if large.ok {
		return outcome{verdict: large.verdict, confidence: confidenceLarge, trace: trace}
	}

	reason := types.ReasonModelTimeout
	switch {
	case disagreed:
		reason = types.ReasonModelDisagreement
	case large.unparseable:
		reason = types.ReasonModelUnparseable
	}
	return outcome{trace: trace, reason: reason}
}

// call queries one tier and parses its answer, retrying the generation
// once when the answer does not decode. Timeouts are not retried; the
// next tier is the retry.
func (p *Processor) call(ctx context.Context, c *inference.Client, prompt string) tierResult {
	raw, err := c.Generate(ctx, prompt)
	if err != nil {
		return tierResult{verdict: failedVerdict(c.Model, err)}
	}

	v, err := inference.ParseVerdict(c.Model, raw)
	if err == nil {
		return tierResult{verdict: v, ok: true}
	}

	raw, retryErr := c.Generate(ctx, prompt)
	if retryErr != nil {
		return tierResult{verdict: failedVerdict(c.Model, retryErr)}
	}
	v, err = inference.ParseVerdict(c.Model, raw)
	if err != nil {
		return tierResult{verdict: failedVerdict(c.Model, err), unparseable: true}
	}
	return tierResult{verdict: v, ok: true}
}

type tierResult struct {
	verdict     types.Verdict
	ok          bool
	unparseable bool
}

func failedVerdict(model string, err error) types.Verdict {
	return types.Verdict{Model: model, Kind: types.KindUnknown, Err: err.Error()}
}

// emit completes the winning verdict into a full Artifact: regex
// extraction over the body fills the gaps the model left, the model
// wins where it answered, and the envelope stays authoritative for the
// contact fields and the document date.
func (p *Processor) emit(item *types.WorkItem, env *types.Envelope, out outcome) (*types.Artifact, *types.FailureRecord, error) {
	kind := out.verdict.Kind
	confidence := out.confidence
	if kind == types.KindUnknown {
		kind = classify.ForceKind(env.From, env.Subject,
			out.verdict.Fields[types.FieldAISummary],
			out.verdict.Fields[types.FieldAIKeywords])
		confidence = confidenceForced
	}

	fields := extract.Fields(env.Body, env, kind)
	for name, val := range out.verdict.Fields {
		if val != "" {
			fields[name] = val
		}
	}
	if !env.Date.IsZero() {
		fields[types.FieldDatumDokumentu] = env.Date.Format("2006-01-02")
	}
	fields[types.FieldDocTyp] = string(kind)

	contentMD5, err := p.store.ContentMD5(item)
	if err != nil {
		return nil, nil, err
	}

	if kind.Accounting() && !p.store.XMLExists(item.ItemID) {
		doc := isdoc.FromFields(kind, fields, env.Body)
		data, err := doc.XML()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to render document payload for %s: %w", item.ItemID, err)
		}
		if err := p.store.WriteXML(item.ItemID, data); err != nil {
			return nil, nil, err
		}
	}

	trace := make([]types.DocumentKind, len(out.trace))
	for i, v := range out.trace {
		trace[i] = v.Kind
	}

	p.logger.Debug().
		Str("item_id", item.ItemID).
		Str("kind", string(kind)).
		Int("models", len(out.trace)).
		Msg("escalation settled")

	return &types.Artifact{
		ItemID:          item.ItemID,
		Phase:           2,
		DocKind:         kind,
		Fields:          fields,
		RawTextSHA256:   store.TextSHA256(env.Body),
		ContentMD5:      contentMD5,
		Confidence:      confidence,
		EscalationTrace: trace,
	}, nil, nil
}

// Pending lists the phase-1 failures still lacking an Artifact, in
// arrival order. This is the phase-2 work queue.
func (p *Processor) Pending() ([]*types.FailureRecord, error) {
	return pending(p.store, 1)
}

func pending(st *store.Store, phase int) ([]*types.FailureRecord, error) {
	records, err := st.ReadFailures(phase)
	if err != nil {
		return nil, err
	}
	var out []*types.FailureRecord
	for _, rec := range records {
		done, err := st.HasArtifact(rec.ItemID)
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, rec)
		}
	}
	return out, nil
}

func snippet(s string) string {
	if runes := []rune(s); len(runes) > snippetLen {
		return string(runes[:snippetLen])
	}
	return s
}
