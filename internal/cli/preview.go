package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reconcilr-io/reconcilr/internal/reconcile"
	"github.com/reconcilr-io/reconcilr/internal/session"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what up would change, without side effects",
	Long: `Computes the plan and runs every operation in preview mode: creates and
updates project their result, deletes are reported but never dispatched,
and nothing is written to the state snapshot.`,
	RunE: runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := reconcile.LoadFile(flagFile)
	if err != nil {
		return err
	}

	store, err := reconcile.OpenStore(ctx, dep.State)
	if err != nil {
		return err
	}

	snap, err := store.Read(ctx)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(ctx, typesOf(dep.Resources, trackedTypes(snap)))
	if err != nil {
		return err
	}

	rec := reconcile.New(reg, store, session.Options{Preview: true})

	plan, snap, err := rec.Plan(ctx, dep.Resources)
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("Reconcilr would perform the following actions:")
	renderPlan(plan)

	// Run the plan in preview to surface validation errors and projected
	// outcomes before anyone commits to it.
	if _, err := rec.Apply(ctx, plan, snap, nil); err != nil {
		return fmt.Errorf("plan is not applyable: %w", err)
	}

	renderSummary(plan)
	return nil
}
