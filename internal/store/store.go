// Package store provides focused, single-concern data access stores for the
// versioned knowledge graph.
//
// StateStore owns the KGState singleton and KGTask records (admission CAS,
// commits, recovery). GraphStore owns versioned Entity/REL data. Both issue
// Cypher through a neo4jdb.Runner; every statement runs in its own managed
// transaction.
package store

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/neo4jdb"
)

const defaultQueryTimeout = 30 * time.Second

// Base contains shared dependencies for all stores.
type Base struct {
	DB  neo4jdb.Runner
	Log *logrus.Logger
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// recordValue extracts a named value from a record, nil if absent.
func recordValue(rec *neo4j.Record, key string) any {
	v, ok := rec.Get(key)
	if !ok {
		return nil
	}

	return v
}

// nodeProps returns the property map of a node-valued record entry.
func nodeProps(v any) map[string]any {
	switch n := v.(type) {
	case dbtype.Node:
		return n.Props
	case map[string]any:
		return n
	default:
		return nil
	}
}

func propString(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}

	return ""
}

func propStringPtr(props map[string]any, key string) *string {
	if s, ok := props[key].(string); ok && s != "" {
		return &s
	}

	return nil
}

func propInt(props map[string]any, key string) (int, bool) {
	switch n := props[key].(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// propTime reads a millisecond-epoch property written by timestamp().
func propTime(props map[string]any, key string) (time.Time, bool) {
	ms, ok := propInt64(props, key)
	if !ok {
		return time.Time{}, false
	}

	return time.UnixMilli(ms).UTC(), true
}

func propInt64(props map[string]any, key string) (int64, bool) {
	switch n := props[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// propStrings converts a list-valued property into []string.
func propStrings(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))

	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

// propFloats converts a list-valued property into []float64.
func propFloats(props map[string]any, key string) []float64 {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}

	out := make([]float64, 0, len(raw))

	for _, v := range raw {
		switch f := v.(type) {
		case float64:
			out = append(out, f)
		case int64:
			out = append(out, float64(f))
		}
	}

	return out
}
