// Package preproc defines the item-side data model of the preprocessing
// pipeline: items and their preprocessing definitions, step history, the
// reference-counted value cache shared by dependent items, and the Engine
// interface through which the pipeline runs steps.
//
// # Ownership
//
// A [Definition] is immutable once published to an [ItemTable]. Every task
// that needs the definition takes a reference with [Definition.Acquire] and
// drops it with [Definition.Release]; configuration reloads replace the
// table entry without invalidating tasks already in flight.
//
// A [Cache] carries a master item's computed value to its dependents. Copies
// share the same object and the last [Cache.Release] frees it:
//
//	cache := preproc.NewCache(def, value, nil)
//	dep := cache.Copy()
//	cache.Release() // false, dep still holds a reference
//	dep.Release()   // true, freed
package preproc
