// Package extractor turns text chunks into a knowledge graph by calling an
// LLM for atomic-fact extraction and graph assembly, and an embeddings model
// for entity vectors. Every upstream call goes through a limiter.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kgforge/kgforge/internal/limiter"
	"github.com/kgforge/kgforge/internal/models"
)

// Extractor produces a complete knowledge graph from text chunks. When base
// is non-nil the result contains the base graph merged with what the new
// chunks contribute — each version is a full, independent copy.
type Extractor interface {
	Build(ctx context.Context, chunks []string, base *models.KnowledgeGraph) (*models.KnowledgeGraph, error)
}

// factBatchSize bounds how many atomic facts feed one assembly call.
const factBatchSize = 60

// embedBatchSize bounds how many entity names feed one embeddings call.
const embedBatchSize = 64

// LLMExtractor is the production Extractor.
type LLMExtractor struct {
	chat       *ChatClient
	embeddings *EmbeddingsClient
	llmLimiter *limiter.Limiter
	embLimiter *limiter.Limiter
	log        *logrus.Logger
	workers    int

	now func() time.Time
}

// New creates an LLMExtractor. workers bounds the fan-out goroutines on top
// of the limiter's own in-flight cap.
func New(chat *ChatClient, embeddings *EmbeddingsClient, llmLimiter, embLimiter *limiter.Limiter, workers int, log *logrus.Logger) *LLMExtractor {
	if workers <= 0 {
		workers = 8
	}

	return &LLMExtractor{
		chat:       chat,
		embeddings: embeddings,
		llmLimiter: llmLimiter,
		embLimiter: embLimiter,
		log:        log,
		workers:    workers,
		now:        time.Now,
	}
}

// Build runs the three extraction stages: facts, assembly, embeddings.
func (e *LLMExtractor) Build(ctx context.Context, chunks []string, base *models.KnowledgeGraph) (*models.KnowledgeGraph, error) {
	obsTimestamp := e.now().UTC().Format(time.RFC3339)

	facts, err := e.extractFacts(ctx, chunks, obsTimestamp)
	if err != nil {
		return nil, err
	}

	if len(facts) == 0 {
		return nil, fmt.Errorf("no atomic facts extracted from %d chunks", len(chunks))
	}

	e.log.WithField("facts", len(facts)).Info("atomic facts extracted")

	kg, err := e.assembleGraph(ctx, facts, obsTimestamp, base)
	if err != nil {
		return nil, err
	}

	if err := e.embedEntities(ctx, kg, base); err != nil {
		return nil, err
	}

	return kg, nil
}

const factSystemPrompt = `You are an atomic-fact extractor. Given a paragraph and an
observation_date, list the standalone facts it states. Resolve relative time
expressions against the observation_date. Do not invent information the
paragraph does not state. Answer as JSON: {"atomic_facts": ["..."]}.`

type factResult struct {
	AtomicFacts []string `json:"atomic_facts"`
}

// extractFacts fans the chunks out to the LLM and gathers facts in chunk
// order.
func (e *LLMExtractor) extractFacts(ctx context.Context, chunks []string, obsTimestamp string) ([]string, error) {
	perChunk := make([][]string, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var mu sync.Mutex

	for i, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		g.Go(func() error {
			user := fmt.Sprintf("observation_date: %s\n\nparagraph:\n%s", obsTimestamp, chunk)

			var parsed factResult

			err := e.llmLimiter.Do(ctx, estimateTokens(factSystemPrompt, user), func(ctx context.Context, reconcile limiter.Reconciler) error {
				content, tokens, err := e.chat.Complete(ctx, factSystemPrompt, user)
				if tokens >= 0 {
					reconcile(tokens)
				}

				if err != nil {
					return err
				}

				return decodeJSONContent(content, &parsed)
			})
			if err != nil {
				return fmt.Errorf("extracting facts from chunk %d: %w", i, err)
			}

			mu.Lock()
			perChunk[i] = parsed.AtomicFacts
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var facts []string

	for _, fs := range perChunk {
		for _, f := range fs {
			if f = strings.TrimSpace(f); f != "" {
				facts = append(facts, f)
			}
		}
	}

	return facts, nil
}

const assembleSystemPrompt = `You are a knowledge-graph builder. From the given atomic
facts, extract entities and the relations between them. Reuse the provided
known entities (exact label and name) when a fact refers to them. Entity
labels are lowercase type tags (person, organization, location, ...); relation
predicates are short lowercase verb phrases. Record temporal bounds when a
fact states them. Answer as JSON:
{"entities": [{"entity_label": "...", "name": "..."}],
 "relations": [{"source_label": "...", "source_name": "...",
                "target_label": "...", "target_name": "...",
                "predicate": "...", "atomic_fact": "...",
                "t_start": "", "t_end": ""}]}.
atomic_fact is the fact the relation was derived from, verbatim.`

type assembleResult struct {
	Entities []struct {
		EntityLabel string `json:"entity_label"`
		Name        string `json:"name"`
	} `json:"entities"`
	Relations []struct {
		SourceLabel string `json:"source_label"`
		SourceName  string `json:"source_name"`
		TargetLabel string `json:"target_label"`
		TargetName  string `json:"target_name"`
		Predicate   string `json:"predicate"`
		AtomicFact  string `json:"atomic_fact"`
		TStart      string `json:"t_start"`
		TEnd        string `json:"t_end"`
	} `json:"relations"`
}

// assembleGraph feeds fact batches to the LLM and merges the results onto the
// base graph.
func (e *LLMExtractor) assembleGraph(ctx context.Context, facts []string, obsTimestamp string, base *models.KnowledgeGraph) (*models.KnowledgeGraph, error) {
	merger := newGraphMerger(base)

	knownEntities := merger.entityDigest()

	for start := 0; start < len(facts); start += factBatchSize {
		end := min(start+factBatchSize, len(facts))

		var sb strings.Builder

		if knownEntities != "" {
			sb.WriteString("known entities:\n")
			sb.WriteString(knownEntities)
			sb.WriteString("\n\n")
		}

		sb.WriteString("facts:\n")

		for _, f := range facts[start:end] {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}

		user := sb.String()

		var parsed assembleResult

		err := e.llmLimiter.Do(ctx, estimateTokens(assembleSystemPrompt, user), func(ctx context.Context, reconcile limiter.Reconciler) error {
			content, tokens, err := e.chat.Complete(ctx, assembleSystemPrompt, user)
			if tokens >= 0 {
				reconcile(tokens)
			}

			if err != nil {
				return err
			}

			return decodeJSONContent(content, &parsed)
		})
		if err != nil {
			return nil, fmt.Errorf("assembling graph from facts %d..%d: %w", start, end, err)
		}

		merger.absorb(parsed, obsTimestamp)

		// New entities from this batch become known to the next one.
		knownEntities = merger.entityDigest()
	}

	return merger.graph(), nil
}

// embedEntities fills in vectors for entities the base graph does not already
// carry.
func (e *LLMExtractor) embedEntities(ctx context.Context, kg, base *models.KnowledgeGraph) error {
	have := make(map[string][]float64)

	if base != nil {
		for _, ent := range base.Entities {
			if len(ent.Embeddings) > 0 {
				have[ent.Key()] = ent.Embeddings
			}
		}
	}

	var (
		missing []int
		texts   []string
	)

	for i := range kg.Entities {
		ent := &kg.Entities[i]
		if vec, ok := have[ent.Key()]; ok {
			ent.Embeddings = vec

			continue
		}

		missing = append(missing, i)
		texts = append(texts, ent.Label+": "+ent.Name)
	}

	for start := 0; start < len(missing); start += embedBatchSize {
		end := min(start+embedBatchSize, len(missing))
		batch := texts[start:end]

		var vectors [][]float64

		err := e.embLimiter.Do(ctx, estimateTokens(batch...), func(ctx context.Context, reconcile limiter.Reconciler) error {
			vecs, tokens, err := e.embeddings.Embed(ctx, batch)
			if tokens >= 0 {
				reconcile(tokens)
			}

			if err != nil {
				return err
			}

			vectors = vecs

			return nil
		})
		if err != nil {
			return fmt.Errorf("embedding entities %d..%d: %w", start, end, err)
		}

		for j, vec := range vectors {
			kg.Entities[missing[start+j]].Embeddings = vec
		}
	}

	return nil
}

// decodeJSONContent parses an LLM reply as JSON, tolerating code fences.
func decodeJSONContent(content string, out any) error {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), out); err != nil {
		return fmt.Errorf("parsing model output as JSON: %w", err)
	}

	return nil
}
