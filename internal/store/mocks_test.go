package store_test

import (
	"context"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/sirupsen/logrus"
)

// recordedQuery captures one Run invocation.
type recordedQuery struct {
	Query  string
	Params map[string]any
}

// fakeRunner implements neo4jdb.Runner with scripted responses. Responses are
// matched by substring against the query text; unmatched queries return no
// records.
type fakeRunner struct {
	mu        sync.Mutex
	queries   []recordedQuery
	responses []scriptedResponse
}

type scriptedResponse struct {
	match   string
	records []*neo4j.Record
	err     error
	once    bool
	used    bool
}

func (f *fakeRunner) respond(match string, records ...*neo4j.Record) {
	f.responses = append(f.responses, scriptedResponse{match: match, records: records})
}

func (f *fakeRunner) respondOnce(match string, records ...*neo4j.Record) {
	f.responses = append(f.responses, scriptedResponse{match: match, records: records, once: true})
}

func (f *fakeRunner) fail(match string, err error) {
	f.responses = append(f.responses, scriptedResponse{match: match, err: err})
}

func (f *fakeRunner) Run(_ context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, recordedQuery{Query: query, Params: params})

	for i := range f.responses {
		r := &f.responses[i]
		if r.once && r.used {
			continue
		}

		if strings.Contains(query, r.match) {
			r.used = true

			return r.records, r.err
		}
	}

	return nil, nil
}

// queriesMatching returns the recorded queries containing the substring.
func (f *fakeRunner) queriesMatching(match string) []recordedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recordedQuery

	for _, q := range f.queries {
		if strings.Contains(q.Query, match) {
			out = append(out, q)
		}
	}

	return out
}

// record builds a neo4j record from parallel key/value lists.
func record(keys []string, values []any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

// entityNode builds a dbtype.Node with entity properties.
func entityNode(version, label, name string, extra map[string]any) dbtype.Node {
	props := map[string]any{
		"kg_version":   version,
		"entity_label": label,
		"name":         name,
	}
	for k, v := range extra {
		props[k] = v
	}

	return dbtype.Node{Props: props}
}

// stateNode builds a dbtype.Node with KGState properties.
func stateNode(status string, latest, taskID any) dbtype.Node {
	return dbtype.Node{Props: map[string]any{
		"graph_name":           "default",
		"status":               status,
		"latest_ready_version": latest,
		"current_task_id":      taskID,
		"updated_at":           int64(1700000000000),
	}}
}

// taskNode builds a dbtype.Node with KGTask properties.
func taskNode(taskID, taskType string, extra map[string]any) dbtype.Node {
	props := map[string]any{
		"task_id":    taskID,
		"type":       taskType,
		"version":    taskID,
		"started_at": int64(1700000000000),
	}
	for k, v := range extra {
		props[k] = v
	}

	return dbtype.Node{Props: props}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	return l
}
