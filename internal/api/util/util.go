package util

// ApplyConversion maps every model through the converter, returning the
// converted values in the same order. A nil slice produces an empty,
// non-nil result so it is serialised as [] rather than null.
func ApplyConversion[T any, K any](models []T, converter func(T) K) []K {
	dtos := make([]K, 0, len(models))
	for _, v := range models {
		dtos = append(dtos, converter(v))
	}

	return dtos
}
