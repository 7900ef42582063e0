package classify

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mailsift/mailsift/pkg/types"
)

// Threshold is the minimum rule score a kind must reach to be
// assigned. Items below it classify as unknown and escalate to the
// model phases.
const Threshold = 50

// maxScore caps a rule score so confidence never reports certainty
// from keyword evidence alone.
const maxScore = 95

// Rule scores one document kind against extracted text. All patterns
// are case-insensitive regular expressions.
//
// Scoring: a rule is inapplicable (score 0) unless at least one
// Keywords pattern matches. When applicable the score is BaseScore,
// plus the matched fraction of Required times 50 (zero Required
// matches disqualify the rule), plus 5 per Bonus match, minus 50 per
// Negative match.
type Rule struct {
	Kind      types.DocumentKind `yaml:"kind"`
	Priority  int                `yaml:"priority"`
	BaseScore int                `yaml:"base_score"`
	Keywords  []string           `yaml:"keywords"`
	Required  []string           `yaml:"required,omitempty"`
	Bonus     []string           `yaml:"bonus,omitempty"`
	Negative  []string           `yaml:"negative,omitempty"`
}

// Result is one classification decision.
type Result struct {
	Kind       types.DocumentKind
	Confidence float64
	Rule       int // index of the winning rule, -1 for pre-checks and unknown
}

type compiledRule struct {
	kind      types.DocumentKind
	priority  int
	baseScore int
	order     int
	keywords  []*regexp.Regexp
	required  []*regexp.Regexp
	bonus     []*regexp.Regexp
	negative  []*regexp.Regexp
}

// Classifier evaluates rules in precedence order: higher Priority
// first, table order breaking ties. The first kind whose score
// reaches Threshold wins.
type Classifier struct {
	rules []*compiledRule
}

// New compiles a rule table. Rules are validated eagerly so a broken
// table fails at startup, not mid-batch.
func New(rules []Rule) (*Classifier, error) {
	compiled := make([]*compiledRule, 0, len(rules))
	for i, r := range rules {
		if !r.Kind.Valid() {
			return nil, fmt.Errorf("rule %d: unknown document kind %q", i, r.Kind)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, r.Kind)
		}
		cr := &compiledRule{
			kind:      r.Kind,
			priority:  r.Priority,
			baseScore: r.BaseScore,
			order:     i,
		}
		var err error
		if cr.keywords, err = compilePatterns(r.Keywords); err != nil {
			return nil, fmt.Errorf("rule %d (%s): keywords: %w", i, r.Kind, err)
		}
		if cr.required, err = compilePatterns(r.Required); err != nil {
			return nil, fmt.Errorf("rule %d (%s): required: %w", i, r.Kind, err)
		}
		if cr.bonus, err = compilePatterns(r.Bonus); err != nil {
			return nil, fmt.Errorf("rule %d (%s): bonus: %w", i, r.Kind, err)
		}
		if cr.negative, err = compilePatterns(r.Negative); err != nil {
			return nil, fmt.Errorf("rule %d (%s): negative: %w", i, r.Kind, err)
		}
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].priority != compiled[j].priority {
			return compiled[i].priority > compiled[j].priority
		}
		return compiled[i].order < compiled[j].order
	})

	return &Classifier{rules: compiled}, nil
}

// Default returns a classifier built from the built-in rule table.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("built-in rule table invalid: %v", err))
	}
	return c
}

// Load reads an external rule table from a YAML file.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule table %s: %w", path, err)
	}
	var file struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule table %s: %w", path, err)
	}
	return New(file.Rules)
}

// Classify assigns a document kind to the combined text of one item.
// System notifications are detected from the envelope sender and
// subject before any rule scoring and win outright at confidence 0.99.
func (c *Classifier) Classify(env *types.Envelope, text string) Result {
	if env != nil && IsSystemNotification(env.From, env.Subject) {
		return Result{Kind: types.KindSystemNotification, Confidence: 0.99, Rule: -1}
	}

	lower := strings.ToLower(text)
	if env != nil {
		lower = strings.ToLower(env.Subject) + "\n" + lower
	}

	best := 0
	for i, rule := range c.rules {
		score := rule.score(lower)
		if score >= Threshold {
			if score > maxScore {
				score = maxScore
			}
			return Result{Kind: rule.kind, Confidence: float64(score) / 100, Rule: i}
		}
		if score > best {
			best = score
		}
	}
	return Result{Kind: types.KindUnknown, Confidence: float64(best) / 100, Rule: -1}
}

func (r *compiledRule) score(text string) int {
	hits := 0
	for _, re := range r.keywords {
		if re.MatchString(text) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}

	score := r.baseScore
	if len(r.required) > 0 {
		matched := 0
		for _, re := range r.required {
			if re.MatchString(text) {
				matched++
			}
		}
		if matched == 0 {
			return 0
		}
		score += matched * 50 / len(r.required)
	}
	for _, re := range r.bonus {
		if re.MatchString(text) {
			score += 5
		}
	}
	for _, re := range r.negative {
		if re.MatchString(text) {
			score -= 50
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
