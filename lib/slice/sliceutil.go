package sliceutil

func Map[From any, To any](v []From, f func(From) To) []To {
	out := make([]To, len(v))
	for idx := 0; idx < len(v); idx++ {
		out[idx] = f(v[idx])
	}
	return out
}

// Filter returns the elements of v for which keep returns true,
// preserving order. The input slice is left untouched.
func Filter[T any](v []T, keep func(T) bool) []T {
	out := make([]T, 0, len(v))
	for _, e := range v {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
