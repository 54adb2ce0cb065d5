package lattice_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/pkg/dependency"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/queue"
)

// ExampleNew shows the offline round trip: a mutation queued while offline is
// applied to the graph as soon as the host reports connectivity.
func ExampleNew() {
	eng, err := lattice.New(lattice.WithQueueOptions(queue.WithOnline(false)))
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	ctx := context.Background()
	if _, err := eng.Start(ctx); err != nil {
		log.Fatal(err)
	}

	_, err = eng.Queue.QueueMutation(ctx, domain.Mutation{
		Type:       domain.MutationCreate,
		EntityID:   "user-1",
		EntityType: "user",
		Payload:    map[string]any{"name": "Ada"},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("pending:", len(eng.Queue.Pending()))

	eng.Bus.Publish(ctx, domain.NewEvent(domain.EventConnectivityChanged, "host", true))
	fmt.Println("pending:", len(eng.Queue.Pending()))

	snap, err := eng.GraphStore().LoadGraph(ctx, "domain")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(snap.Nodes[0].ID, snap.Nodes[0].Data["name"])

	// Output:
	// pending: 1
	// pending: 0
	// user-1 Ada
}

// ExampleEngine_Invalidate lists what must recompute when a node changes.
func ExampleEngine_Invalidate() {
	eng, err := lattice.New()
	if err != nil {
		log.Fatal(err)
	}

	_, _ = eng.AddDependency(dependency.Relation{SourceID: "profile", TargetID: "avatar", EdgeID: "e1"})
	_, _ = eng.AddDependency(dependency.Relation{SourceID: "avatar", TargetID: "header", EdgeID: "e2"})

	fmt.Println(eng.Invalidate("profile"))
	// Output: [avatar header]
}
