package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mailsift/mailsift/pkg/deliver"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/normalize"
	"github.com/mailsift/mailsift/pkg/types"
)

// Group is one set of correspondents that normalize to the same key.
// Primary absorbs the duplicates and may be renamed to TargetName.
type Group struct {
	Key        string
	TargetName string
	Primary    types.Correspondent
	Duplicates []types.Correspondent
}

// Documents is the group's total document count as reported by the
// service, for dry-run display.
func (g *Group) Documents() int {
	total := g.Primary.DocumentCount
	for _, d := range g.Duplicates {
		total += d.DocumentCount
	}
	return total
}

// Report sums up one executed merge pass.
type Report struct {
	Groups         int
	Merged         int
	Renamed        int
	DocumentsMoved int
	Errors         int
}

// Merger folds duplicate correspondents on the document service into
// one per normalized key. Plan is read-only; Execute applies it.
type Merger struct {
	client *deliver.Client
	norm   *normalize.Normalizer
	logger zerolog.Logger
}

// New creates a merger over an existing document-service client.
func New(client *deliver.Client) *Merger {
	return &Merger{
		client: client,
		norm:   normalize.New(),
		logger: log.WithComponent("merge"),
	}
}

// WithNormalizer replaces the correspondent normalizer.
func (m *Merger) WithNormalizer(n *normalize.Normalizer) *Merger {
	m.norm = n
	return m
}

// Plan fetches every correspondent and groups the ones that collapse
// to the same key. The primary is the member holding the most
// documents, lowest ID on ties; the target name is the curated mapping
// when one exists, otherwise the best-looking member name. Groups come
// back sorted by key.
func (m *Merger) Plan(ctx context.Context) ([]Group, error) {
	all, err := m.client.Correspondents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list correspondents: %w", err)
	}

	byKey := make(map[string][]types.Correspondent)
	for _, c := range all {
		key := m.norm.Key(c.Name)
		if key == "" {
			continue
		}
		byKey[key] = append(byKey[key], c)
	}

	var groups []Group
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].DocumentCount != members[j].DocumentCount {
				return members[i].DocumentCount > members[j].DocumentCount
			}
			return members[i].ID < members[j].ID
		})

		names := make([]string, len(members))
		for i, c := range members {
			names[i] = c.Name
		}
		target := normalize.Canonical(names)
		if mapped, ok := m.norm.Mapped(key); ok {
			target = mapped
		}

		groups = append(groups, Group{
			Key:        key,
			TargetName: target,
			Primary:    members[0],
			Duplicates: members[1:],
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })

	m.logger.Info().
		Int("correspondents", len(all)).
		Int("duplicate_groups", len(groups)).
		Msg("merge plan ready")
	return groups, nil
}

// Execute applies a plan: rename the primary where the target name
// differs, repoint every duplicate's documents at the primary, then
// delete the emptied duplicates. A duplicate whose documents did not
// all move is kept, so a partial failure never strands a document.
func (m *Merger) Execute(ctx context.Context, groups []Group) (*Report, error) {
	report := &Report{Groups: len(groups)}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m.mergeGroup(ctx, g, report)
	}

	m.logger.Info().
		Int("groups", report.Groups).
		Int("merged", report.Merged).
		Int("renamed", report.Renamed).
		Int("documents_moved", report.DocumentsMoved).
		Int("errors", report.Errors).
		Msg("correspondent merge finished")
	return report, nil
}

func (m *Merger) mergeGroup(ctx context.Context, g Group, report *Report) {
	logger := m.logger.With().Str("key", g.Key).Str("target", g.TargetName).Logger()

	if g.TargetName != "" && g.TargetName != g.Primary.Name {
		// A failed rename does not block the merge itself.
		if err := m.client.RenameCorrespondent(ctx, g.Primary.ID, g.TargetName); err != nil {
			logger.Warn().Err(err).Msg("failed to rename primary")
			report.Errors++
		} else {
			report.Renamed++
		}
	}

	for _, dup := range g.Duplicates {
		moved, err := m.absorb(ctx, dup, g.Primary.ID)
		report.DocumentsMoved += moved
		if err != nil {
			logger.Warn().Err(err).Str("duplicate", dup.Name).Msg("failed to absorb duplicate")
			report.Errors++
			continue
		}
		report.Merged++
		logger.Info().
			Str("duplicate", dup.Name).
			Int("documents", moved).
			Msg("merged correspondent")
	}
}

// absorb moves every document off a duplicate, then deletes it. The
// delete only happens once all of its documents have moved.
func (m *Merger) absorb(ctx context.Context, dup types.Correspondent, primaryID int) (int, error) {
	docs, err := m.client.DocumentsByCorrespondent(ctx, dup.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents of correspondent %d: %w", dup.ID, err)
	}
	moved := 0
	for _, docID := range docs {
		if err := m.client.AssignDocumentCorrespondent(ctx, docID, primaryID); err != nil {
			return moved, fmt.Errorf("failed to move document %d: %w", docID, err)
		}
		moved++
	}
	if err := m.client.DeleteCorrespondent(ctx, dup.ID); err != nil {
		return moved, fmt.Errorf("failed to delete correspondent %d: %w", dup.ID, err)
	}
	return moved, nil
}
