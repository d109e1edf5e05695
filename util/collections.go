package util

import "sort"

// Contains reports whether val is an element of set
func Contains[T comparable](set []T, val T) bool {
	for _, v := range set {
		if v == val {
			return true
		}
	}
	return false
}

// In reports whether val is one of set
func In[T comparable](val T, set ...T) bool {
	return Contains(set, val)
}

// SortedKeys keys of a string keyed map in ascending order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
