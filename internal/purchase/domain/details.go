package domain

import "gorm.io/datatypes"

// MergeDetails shallow-merges next into prev. Keys in next win; keys only in
// prev are kept. Neither input is modified.
func MergeDetails(prev, next datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(prev)+len(next))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}
