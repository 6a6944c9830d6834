// Package to provides pointer helpers for the optional fields service
// models are full of.
package to

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// SliceOfPtrs returns a slice of pointers to the given values.
func SliceOfPtrs[T any](vv ...T) []*T {
	out := make([]*T, len(vv))
	for i := range vv {
		out[i] = Ptr(vv[i])
	}
	return out
}
