package strata

import (
	"reflect"
	"sync"
)

// cacheKey identifies a model instance by record type and database identity.
type cacheKey struct {
	typ      reflect.Type
	identity string
}

var (
	models   = make(map[cacheKey]any)
	modelsMu sync.RWMutex
)

// Use returns the unique model for (record type T, database identity),
// creating it lazily. Concurrent first-time requests converge on a single
// instance: losers of the construction race receive the winner's model.
// The cache never evicts; subsequent calls ignore the codec and options.
//
// The schema for T must have been declared with Define.
func Use[T any](store Storage, identity string, c Codec, opts ...Option) (*Model[T], error) {
	typ := reflect.TypeFor[T]()
	key := cacheKey{typ: typ, identity: identity}

	// Fast path: read-lock cache check
	modelsMu.RLock()
	if cached, ok := models[key]; ok {
		modelsMu.RUnlock()
		return cached.(*Model[T]), nil
	}
	modelsMu.RUnlock()

	// Slow path: build and cache with write-lock
	modelsMu.Lock()
	defer modelsMu.Unlock()

	// Double-check pattern
	if cached, ok := models[key]; ok {
		return cached.(*Model[T]), nil
	}

	schema, ok := schemaFor(typ)
	if !ok {
		return nil, newDeclarationError(ErrNotDefined, typ.String(), "")
	}

	model, err := New[T](schema, store, identity, c, opts...)
	if err != nil {
		return nil, err
	}

	models[key] = model
	return model, nil
}

// Reset clears the model cache and the record-type registry.
// This is primarily useful for test isolation.
func Reset() {
	modelsMu.Lock()
	models = make(map[cacheKey]any)
	modelsMu.Unlock()
	resetSchemas()
}
