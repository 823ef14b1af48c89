package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reconcilr-io/reconcilr/internal/reconcile"
	"github.com/reconcilr-io/reconcilr/internal/session"
	"github.com/reconcilr-io/reconcilr/internal/statefile"
)

var upAutoApprove bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Converge resources onto the deployment file",
	Long: `Plans the changes needed to make the tracked resources match the
deployment file, then applies them one at a time. Progress is checkpointed
to the state snapshot before and after every external operation.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVar(&upAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
}

func runUp(cmd *cobra.Command, args []string) error {
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

	reg, err := buildRegistry(ctx, typesOf(dep.Resources, trackedTypes(snap)))
	if err != nil {
		return err
	}

	rec := reconcile.New(reg, store, session.Options{})

	fmt.Print("Calculating plan... ")
	plan, snap, err := rec.Plan(ctx, dep.Resources)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")

	if plan.Empty() {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("\nReconcilr will perform the following actions:")
	renderPlan(plan)
	renderSummary(plan)

	if !upAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))
	if _, err := rec.Apply(ctx, plan, snap, printEvent); err != nil {
		return err
	}

	fmt.Printf("\nDone. Resources: %d created, %d updated, %d replaced, %d deleted.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace, plan.Summary.Delete)
	return nil
}

func trackedTypes(snap *statefile.Snapshot) []string {
	var types []string
	for _, rec := range snap.Resources {
		types = append(types, rec.Type)
	}
	return types
}
