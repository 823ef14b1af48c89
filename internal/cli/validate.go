package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reconcilr-io/reconcilr/internal/reconcile"
	"github.com/reconcilr-io/reconcilr/internal/resource"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the deployment file",
	Long: `Parses the deployment file and runs every resource's inputs through its
provider's validation, without contacting any external system.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := reconcile.LoadFile(flagFile)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(ctx, typesOf(dep.Resources, nil))
	if err != nil {
		return err
	}

	var failures int
	for _, res := range dep.Resources {
		ctrl, err := reg.Get(res.Type)
		if err != nil {
			fmt.Printf("  ✗ %s: %v\n", res.Address(), err)
			failures++
			continue
		}
		if _, err := ctrl.Check(resource.CopyInputs(res.Inputs)); err != nil {
			fmt.Printf("  ✗ %s: %v\n", res.Address(), err)
			failures++
			continue
		}
		fmt.Printf("  ✓ %s\n", res.Address())
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d resources failed validation", failures, len(dep.Resources))
	}
	fmt.Printf("\nDeployment is valid. %d resources checked.\n", len(dep.Resources))
	return nil
}
