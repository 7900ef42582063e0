package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailsift/mailsift/pkg/review"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve items waiting for manual review",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items in the review queue",
	Long: `List prints every item the external model gave up on, with the reason
and the last text snippet the models saw, for a human to classify with
"review apply".`,
	RunE: runReviewList,
}

var reviewApplyCmd = &cobra.Command{
	Use:   "apply ITEM_ID",
	Short: "Record a reviewer's decision for one item",
	Long: `Apply records a human classification for one queued item and writes
the final artifact, or drops the item with --reject.

Field names follow the extraction contract (protistrana_nazev,
castka_celkem, datum_dokumentu, cislo_dokumentu, mena and the rest);
unknown names are refused.

Examples:
  mailsift review apply item_0042 --kind invoice \
    --field datum_dokumentu=2024-03-01 --field castka_celkem=1499.00

  mailsift review apply item_0099 --reject`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewApply,
}

func init() {
	reviewApplyCmd.Flags().String("kind", "", "Document kind (invoice, receipt, order, contract, correspondence, ...)")
	reviewApplyCmd.Flags().StringArray("field", nil, "Extracted field as name=value (repeatable)")
	reviewApplyCmd.Flags().Bool("reject", false, "Drop the item instead of classifying it")
	reviewApplyCmd.Flags().String("reviewer", "", "Name recorded with the decision (default: hostname)")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApplyCmd)
	rootCmd.AddCommand(reviewCmd)
}

func runReviewList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Store.Root)
	if err != nil {
		return err
	}

	pending, err := review.New(st).Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Review queue is empty")
		return nil
	}

	fmt.Printf("%d items awaiting review:\n\n", len(pending))
	for _, rec := range pending {
		fmt.Printf("%s  (%s)\n", rec.ItemID, rec.Reason)
		if snip := oneLine(rec.LastTextSnippet); snip != "" {
			fmt.Printf("    %s\n", snip)
		}
	}
	return nil
}

// oneLine flattens a snippet for list display.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > 120 {
		s = string(runes[:120]) + "..."
	}
	return s
}

func runReviewApply(cmd *cobra.Command, args []string) error {
	itemID := args[0]
	kind, _ := cmd.Flags().GetString("kind")
	fieldArgs, _ := cmd.Flags().GetStringArray("field")
	reject, _ := cmd.Flags().GetBool("reject")
	reviewer, _ := cmd.Flags().GetString("reviewer")

	if !reject && kind == "" {
		return fmt.Errorf("--kind is required unless --reject is set")
	}

	fields := make(map[string]string, len(fieldArgs))
	for _, raw := range fieldArgs {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("invalid --field %q, want name=value", raw)
		}
		fields[name] = value
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Store.Root)
	if err != nil {
		return err
	}

	art, err := review.New(st).Apply(&types.ReviewDecision{
		ItemID:    itemID,
		Kind:      types.DocumentKind(kind),
		Fields:    fields,
		Reject:    reject,
		Reviewer:  reviewer,
		DecidedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	if reject {
		fmt.Printf("✓ %s rejected\n", itemID)
		return nil
	}
	fmt.Printf("✓ %s classified as %s (%d fields)\n", itemID, art.DocKind, len(art.Fields))
	return nil
}
