// Package tune picks the fastest variant of an operation by measuring every
// variant once per shape class and caching the winner.
package tune

import "fmt"

// Key identifies the shape class of an operation. Keys with the same String
// share a cached winner, so String must include the operation name and every
// parameter that can change which variant is fastest.
type Key interface {
	fmt.Stringer
}

// Operation is one runnable variant.
type Operation interface {
	Name() string
	Execute() error
}

// OperationSet is the family of variants for one call.
//
// Autotunables returns variants that are safe to run repeatedly for
// benchmarking, typically over scratch copies of the inputs. Fastest returns
// the production operation for a variant index, bound to the real inputs.
type OperationSet interface {
	Key() Key
	Autotunables() []Operation
	Fastest(index int) Operation
	// FallbackIndex is a variant that is always applicable. It runs when no
	// variant could be benchmarked.
	FallbackIndex() int
}

// Syncer waits for submitted device work to complete. The client implements it.
type Syncer interface {
	Sync() error
}
