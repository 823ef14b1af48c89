package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reconcilr-io/reconcilr/internal/reconcile"
	"github.com/reconcilr-io/reconcilr/internal/session"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete every tracked resource",
	Long: `The inverse of 'reconcilr up': plans a deployment with no resources, so
everything in the state snapshot is deleted, newest first.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := reconcile.LoadFile(flagFile)
	if err != nil {
		return err
	}

	store, err := reconcile.OpenStore(ctx, dep.State)
	if err != nil {
		return err
	}

	if err := store.Lock(ctx); err != nil {
		return err
	}
	defer store.Unlock(ctx)

	snap, err := store.Read(ctx)
	if err != nil {
		return err
	}
	if len(snap.Resources) == 0 {
		fmt.Println("Nothing to destroy.")
		return nil
	}

	reg, err := buildRegistry(ctx, typesOf(nil, trackedTypes(snap)))
	if err != nil {
		return err
	}

	rec := reconcile.New(reg, store, session.Options{})

	plan, snap, err := rec.Plan(ctx, nil)
	if err != nil {
		return err
	}

	fmt.Println("Reconcilr will destroy the following resources:")
	renderPlan(plan)
	renderSummary(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	if _, err := rec.Apply(ctx, plan, snap, printEvent); err != nil {
		return err
	}

	fmt.Printf("\nDestroy complete. %d resources deleted.\n", plan.Summary.Delete)
	return nil
}
