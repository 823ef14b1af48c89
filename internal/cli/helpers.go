package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/reconcilr-io/reconcilr/internal/reconcile"
	"github.com/reconcilr-io/reconcilr/internal/registry"
	"github.com/reconcilr-io/reconcilr/providers/git"
	"github.com/reconcilr-io/reconcilr/providers/healthcheck"
	"github.com/reconcilr-io/reconcilr/providers/iam"
	"github.com/reconcilr-io/reconcilr/providers/nonsense"
	"github.com/reconcilr-io/reconcilr/providers/pipeline"
	"github.com/reconcilr-io/reconcilr/providers/s3"
)

// buildRegistry registers a controller for every resource type the run
// touches. Controllers holding real clients are only constructed when a
// resource of their type is present, so a deployment of mock resources
// needs no credentials.
func buildRegistry(ctx context.Context, types map[string]bool) (*registry.Registry, error) {
	reg := registry.New()

	for typ := range types {
		var err error
		switch typ {
		case nonsense.TypeName:
			err = reg.Register(typ, nonsense.New())

		case pipeline.TypeName:
			err = reg.Register(typ, pipeline.New(pipeline.NewMemoryStore()))

		case healthcheck.TypeName:
			err = reg.Register(typ, healthcheck.New(nil))

		case s3.TypeName:
			var client s3.API
			client, err = s3.NewClient(ctx, s3.Options{
				Region:       os.Getenv("AWS_REGION"),
				Endpoint:     os.Getenv("RECONCILR_S3_ENDPOINT"),
				UsePathStyle: os.Getenv("RECONCILR_S3_ENDPOINT") != "",
			})
			if err == nil {
				err = reg.Register(typ, s3.New(client))
			}

		case iam.TypeName:
			var client iam.API
			client, err = iam.NewClient(ctx, os.Getenv("AWS_REGION"))
			if err == nil {
				err = reg.Register(typ, iam.New(client))
			}

		case git.TypeName:
			base := os.Getenv("RECONCILR_GIT_API")
			if base == "" {
				base = "https://api.github.com"
			}
			err = reg.Register(typ, git.New(git.NewHTTPClient(base, os.Getenv("RECONCILR_GIT_TOKEN"))))

		default:
			return nil, fmt.Errorf("no provider registered for resource type %q", typ)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to set up provider for %s: %w", typ, err)
		}
	}

	return reg, nil
}

// typesOf collects the distinct resource types of the desired resources and
// the records already in the snapshot, so deletes of removed resources still
// find their controller.
func typesOf(desired []reconcile.Desired, tracked []string) map[string]bool {
	types := make(map[string]bool)
	for _, d := range desired {
		types[d.Type] = true
	}
	for _, t := range tracked {
		types[t] = true
	}
	return types
}

func renderPlan(plan *reconcile.Plan) {
	for _, change := range plan.Changes {
		marker := map[reconcile.Action]string{
			reconcile.ActionCreate:  "+",
			reconcile.ActionUpdate:  "~",
			reconcile.ActionReplace: "±",
			reconcile.ActionDelete:  "-",
		}[change.Action]

		fmt.Printf("  %s %s (%s)", marker, change.Address, change.Action)
		if change.Diff != nil && len(change.Diff.Changes) > 0 {
			fmt.Printf(" changed: %v", change.Diff.Changes)
		}
		if change.Resume {
			fmt.Print(" [resuming interrupted operation]")
		}
		fmt.Println()
	}
}

func renderSummary(plan *reconcile.Plan) {
	s := plan.Summary
	fmt.Printf("\nPlan: %d to create, %d to update, %d to replace, %d to delete, %d unchanged.\n",
		s.Create, s.Update, s.Replace, s.Delete, s.Noop)
}

func printEvent(e reconcile.Event) {
	switch e.Status {
	case "started":
		fmt.Printf("%s: %s...\n", e.Address, e.Action)
	case "completed":
		fmt.Printf("%s: %s (%s) [%s]\n", e.Address, e.Action, e.Outcome, e.Duration.Round(time.Millisecond))
	case "failed":
		fmt.Printf("%s: %s FAILED: %v\n", e.Address, e.Action, e.Err)
	}
}
