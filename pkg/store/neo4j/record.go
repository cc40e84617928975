package neo4j

import (
	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func recordString(r *neo4jv5.Record, key string) string {
	if v, ok := r.Get(key); ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func recordInt64(r *neo4jv5.Record, key string) int64 {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func recordFloat64(r *neo4jv5.Record, key string) float64 {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func recordStrings(r *neo4jv5.Record, key string) []string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return []string{}
	}
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
