/*
Package dsl provides a fluent builder for graph snapshots.

It is a type-safe alternative to hand-assembling domain.GraphSnapshot values,
useful for seeding stores, tests and demos.

Example usage:

	snap, err := dsl.New("domain").
		Add("user-1").Type("user").Set("name", "Ada").Link("order-1", "owns").
		Add("order-1").Type("order").Set("total", 42).
		Build()
	if err != nil {
		return err
	}
	err = store.PersistGraph(ctx, snap)
*/
package dsl
