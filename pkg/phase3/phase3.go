package phase3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/mailsift/mailsift/pkg/budget"
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

const (
	confidenceExternal = 0.8
	confidenceForced   = 0.6
)

const snippetLen = 500

// breakerTrips is how many consecutive transport failures open the
// circuit. With the per-item retry budget this means a dead endpoint
// costs one item's worth of attempts before the rest defer instantly.
const breakerTrips = 3

// Processor sends items the local tiers gave up on to the external
// model. Every call passes the daily budget gate first; transport
// trouble flows through a retry policy and a circuit breaker so a sick
// endpoint defers work instead of burning it.
type Processor struct {
	store   *store.Store
	client  *Client
	ledger  *budget.Ledger
	breaker *gobreaker.CircuitBreaker

	attempts     int
	retryInitial time.Duration
	retryMax     time.Duration

	logger zerolog.Logger
}

// New creates a phase-3 processor around an external client and a
// budget ledger.
func New(st *store.Store, client *Client, ledger *budget.Ledger) *Processor {
	return &Processor{
		store:        st,
		client:       client,
		ledger:       ledger,
		breaker:      newBreaker(),
		attempts:     3,
		retryInitial: 2 * time.Second,
		retryMax:     30 * time.Second,
		logger:       log.WithComponent("phase3"),
	}
}

// FromConfig builds the client and retry policy out of the external
// section. The ledger is opened by the caller because its path lives
// on the shared store.
func FromConfig(st *store.Store, cfg config.ExternalConfig, ledger *budget.Ledger) *Processor {
	client := NewClient(cfg.URL, cfg.Token, cfg.Model)
	if cfg.MaxTokens > 0 {
		client.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		client.Temperature = cfg.Temperature
	}
	p := New(st, client, ledger)
	if cfg.RetryAttempts > 0 {
		p.attempts = cfg.RetryAttempts
	}
	if cfg.RetryInitial.Std() > 0 {
		p.retryInitial = cfg.RetryInitial.Std()
	}
	if cfg.RetryMaxInterval.Std() > 0 {
		p.retryMax = cfg.RetryMaxInterval.Std()
	}
	return p
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "external-model",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrips
		},
	})
}

// Phase returns the pipeline phase this processor implements.
func (p *Processor) Phase() int { return 3 }

// Process runs one item through the external model. Budget exhaustion
// and rate limiting come back as deferrable failures; a terminal model
// failure feeds the manual-review stream. The returned error covers
// unreadable input and broken operator configuration, both of which
// should stop the instance rather than drain the queue.
func (p *Processor) Process(ctx context.Context, item *types.WorkItem) (*types.Artifact, *types.FailureRecord, error) {
	env, err := envelope.ParseFile(item.EnvelopePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read envelope for %s: %w", item.ItemID, err)
	}

	user := userContent(env)
	if err := p.ledger.Allow(estimateTokens(user, p.client.MaxTokens)); err != nil {
		if errors.Is(err, budget.ErrExhausted) {
			p.logger.Warn().Str("item_id", item.ItemID).Msg("daily budget exhausted, deferring")
			return nil, p.failure(item, env, types.ReasonQuotaExhausted), nil
		}
		return nil, nil, err
	}

	answer, usage, err := p.complete(ctx, user)
	if usage.TotalTokens > 0 {
		if serr := p.ledger.Spend(usage.TotalTokens); serr != nil {
			return nil, nil, serr
		}
	}
	if err != nil {
		return p.settle(item, env, err)
	}

	verdict, err := inference.ParseVerdict(p.client.Model, answer)
	if err != nil {
		p.logger.Warn().Str("item_id", item.ItemID).Err(err).Msg("external answer unusable")
		return nil, p.failure(item, env, types.ReasonModelUnparseable), nil
	}

	return p.emit(item, env, verdict, usage)
}

type callResult struct {
	answer string
	usage  Usage
	err    error
}

// complete runs one completion through the breaker and the retry
// policy. Only transport-class failures count against the breaker and
// earn retries; the endpoint saying no (429, other 4xx) is final for
// this attempt.
func (p *Processor) complete(ctx context.Context, user string) (string, Usage, error) {
	var answer string
	var usage Usage

	operation := func() error {
		raw, err := p.breaker.Execute(func() (interface{}, error) {
			text, u, cerr := p.client.Complete(ctx, systemPrompt, user)
			if cerr != nil && transient(cerr) {
				return callResult{usage: u}, cerr
			}
			return callResult{answer: text, usage: u, err: cerr}, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		res := raw.(callResult)
		usage = res.usage
		if res.err != nil {
			return backoff.Permanent(res.err)
		}
		answer = res.answer
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryInitial
	policy.MaxInterval = p.retryMax
	policy.Multiplier = 2

	var retries uint64
	if p.attempts > 1 {
		retries = uint64(p.attempts - 1)
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
	return answer, usage, err
}

// settle maps a completion failure onto the failure taxonomy.
func (p *Processor) settle(item *types.WorkItem, env *types.Envelope, err error) (*types.Artifact, *types.FailureRecord, error) {
	var status *StatusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.logger.Warn().Str("item_id", item.ItemID).Msg("endpoint circuit open, deferring")
		return nil, p.failure(item, env, types.ReasonRateLimited), nil
	case errors.As(err, &status) && status.Code == http.StatusTooManyRequests:
		p.logger.Warn().Str("item_id", item.ItemID).Msg("rate limited, deferring")
		return nil, p.failure(item, env, types.ReasonRateLimited), nil
	case errors.As(err, &status) && status.Code >= 400 && status.Code < 500:
		// The endpoint rejects the request itself, usually bad
		// credentials. Retrying the next item would fail the same
		// way, so stop the instance instead of draining the queue.
		return nil, nil, fmt.Errorf("external model rejected request: %w", err)
	case errors.Is(err, ErrBadAnswer):
		p.logger.Warn().Str("item_id", item.ItemID).Err(err).Msg("external answer unusable")
		return nil, p.failure(item, env, types.ReasonModelUnparseable), nil
	case errors.Is(err, ErrTimeout):
		p.logger.Warn().Str("item_id", item.ItemID).Msg("external model timed out")
		return nil, p.failure(item, env, types.ReasonModelTimeout), nil
	default:
		p.logger.Warn().Str("item_id", item.ItemID).Err(err).Msg("external call failed")
		return nil, p.failure(item, env, types.ReasonModelTimeout), nil
	}
}

func (p *Processor) emit(item *types.WorkItem, env *types.Envelope, verdict types.Verdict, usage Usage) (*types.Artifact, *types.FailureRecord, error) {
	kind := verdict.Kind
	confidence := confidenceExternal
	if kind == types.KindUnknown {
		kind = classify.ForceKind(env.From, env.Subject,
			verdict.Fields[types.FieldAISummary],
			verdict.Fields[types.FieldAIKeywords])
		confidence = confidenceForced
	}

	fields := extract.Fields(env.Body, env, kind)
	for name, val := range verdict.Fields {
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

	p.logger.Info().
		Str("item_id", item.ItemID).
		Str("kind", string(kind)).
		Int64("tokens", usage.TotalTokens).
		Msg("external verdict accepted")

	return &types.Artifact{
		ItemID:        item.ItemID,
		Phase:         3,
		DocKind:       kind,
		Fields:        fields,
		RawTextSHA256: store.TextSHA256(env.Body),
		ContentMD5:    contentMD5,
		Confidence:    confidence,
	}, nil, nil
}

func (p *Processor) failure(item *types.WorkItem, env *types.Envelope, reason types.FailureReason) *types.FailureRecord {
	return &types.FailureRecord{
		ItemID:          item.ItemID,
		Phase:           3,
		Reason:          reason,
		LastTextSnippet: snippet(env.Body),
	}
}

// Pending lists the phase-2 failures still lacking an Artifact plus
// any items deferred on an earlier run, deduplicated in arrival order.
func (p *Processor) Pending() ([]*types.FailureRecord, error) {
	records, err := p.store.ReadFailures(2)
	if err != nil {
		return nil, err
	}
	deferred, err := p.store.ReadDeferred()
	if err != nil {
		return nil, err
	}
	for _, rec := range deferred {
		if rec.Phase == 3 {
			records = append(records, rec)
		}
	}

	seen := make(map[string]bool, len(records))
	var out []*types.FailureRecord
	for _, rec := range records {
		if seen[rec.ItemID] {
			continue
		}
		seen[rec.ItemID] = true
		done, err := p.store.HasArtifact(rec.ItemID)
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, rec)
		}
	}
	return out, nil
}

// transient reports whether a completion error is worth a retry and a
// breaker strike. Timeouts, network trouble and 5xx answers qualify;
// anything the endpoint said deliberately does not.
func transient(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	return !errors.Is(err, ErrBadAnswer) && !errors.Is(err, context.Canceled)
}

func snippet(s string) string {
	if runes := []rune(s); len(runes) > snippetLen {
		return string(runes[:snippetLen])
	}
	return s
}

// estimateTokens guesses the call cost before it happens. Four bytes
// per token is the usual rough cut for mixed Czech text, plus the
// answer allowance.
func estimateTokens(user string, maxTokens int) int64 {
	return int64((len(systemPrompt)+len(user))/4 + maxTokens)
}
