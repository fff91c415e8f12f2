package util

// Ptr returns a pointer to the given value.
// Generic helper for creating pointers to literals.
func Ptr[T any](v T) *T {
	return &v
}
