package procq

// Compose folds callbacks into one, run in argument order. It lets a caller
// attach more behaviors than MaxCallbacks allows. Nil entries are skipped.
func Compose[T any](callbacks ...Callback[T]) Callback[T] {
	chain := make([]Callback[T], 0, len(callbacks))
	for _, cb := range callbacks {
		if cb != nil {
			chain = append(chain, cb)
		}
	}

	return func(v *T) {
		for _, cb := range chain {
			cb(v)
		}
	}
}

// When runs cb only for elements matching condition.
func When[T any](condition func(v T) bool, cb Callback[T]) Callback[T] {
	return func(v *T) {
		if condition(*v) {
			cb(v)
		}
	}
}
