package extractor

import (
	"strings"

	"github.com/kgforge/kgforge/internal/models"
)

// entityDigestCap bounds how many known entities are echoed back into
// assembly prompts.
const entityDigestCap = 300

// relationFallbackName stands in for relations the model left unnamed.
const relationFallbackName = "related_to"

// graphMerger accumulates entities and relations across assembly batches,
// seeded with the base graph so incremental builds emit a full copy.
// Re-observed relations merge their temporal annotations instead of
// duplicating.
type graphMerger struct {
	entities  map[string]int // key -> index into entityList
	relations map[string]int // key -> index into relationList

	entityList   []models.Entity
	relationList []models.Relation
}

func newGraphMerger(base *models.KnowledgeGraph) *graphMerger {
	m := &graphMerger{
		entities:  make(map[string]int),
		relations: make(map[string]int),
	}

	if base == nil {
		return m
	}

	for _, ent := range base.Entities {
		m.addEntity(ent)
	}

	for _, rel := range base.Relations {
		m.addRelation(rel)
	}

	return m
}

func (m *graphMerger) addEntity(ent models.Entity) models.Entity {
	ent.Label = strings.TrimSpace(ent.Label)
	ent.Name = strings.TrimSpace(ent.Name)

	if idx, ok := m.entities[ent.Key()]; ok {
		existing := &m.entityList[idx]
		if len(existing.Embeddings) == 0 && len(ent.Embeddings) > 0 {
			existing.Embeddings = ent.Embeddings
		}

		return *existing
	}

	m.entities[ent.Key()] = len(m.entityList)
	m.entityList = append(m.entityList, ent)

	return ent
}

func (m *graphMerger) addRelation(rel models.Relation) {
	if rel.Predicate == "" {
		rel.Predicate = relationFallbackName
	}

	if idx, ok := m.relations[rel.Key()]; ok {
		existing := &m.relationList[idx]
		existing.AtomicFacts = appendUnique(existing.AtomicFacts, rel.AtomicFacts...)
		existing.TObs = appendUnique(existing.TObs, rel.TObs...)
		existing.TStart = appendUnique(existing.TStart, rel.TStart...)
		existing.TEnd = appendUnique(existing.TEnd, rel.TEnd...)

		return
	}

	m.relations[rel.Key()] = len(m.relationList)
	m.relationList = append(m.relationList, rel)
}

// absorb merges one assembly batch into the accumulated graph.
func (m *graphMerger) absorb(parsed assembleResult, obsTimestamp string) {
	for _, e := range parsed.Entities {
		if e.Name == "" {
			continue
		}

		m.addEntity(models.Entity{Label: normalizeLabel(e.EntityLabel), Name: e.Name})
	}

	for _, r := range parsed.Relations {
		if r.SourceName == "" || r.TargetName == "" {
			continue
		}

		source := m.addEntity(models.Entity{Label: normalizeLabel(r.SourceLabel), Name: r.SourceName})
		target := m.addEntity(models.Entity{Label: normalizeLabel(r.TargetLabel), Name: r.TargetName})

		rel := models.Relation{
			Source:    source,
			Target:    target,
			Predicate: strings.TrimSpace(r.Predicate),
			TObs:      []string{obsTimestamp},
		}

		if fact := strings.TrimSpace(r.AtomicFact); fact != "" {
			rel.AtomicFacts = []string{fact}
		}

		if ts := strings.TrimSpace(r.TStart); ts != "" {
			rel.TStart = []string{ts}
		}

		if ts := strings.TrimSpace(r.TEnd); ts != "" {
			rel.TEnd = []string{ts}
		}

		m.addRelation(rel)
	}
}

// entityDigest renders known entities for the assembly prompt, capped to keep
// prompts bounded.
func (m *graphMerger) entityDigest() string {
	if len(m.entityList) == 0 {
		return ""
	}

	var sb strings.Builder

	for i, ent := range m.entityList {
		if i >= entityDigestCap {
			break
		}

		sb.WriteString("- ")
		sb.WriteString(ent.Label)
		sb.WriteString(": ")
		sb.WriteString(ent.Name)
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m *graphMerger) graph() *models.KnowledgeGraph {
	return &models.KnowledgeGraph{
		Entities:  m.entityList,
		Relations: m.relationList,
	}
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "unknown"
	}

	return strings.ReplaceAll(label, " ", "_")
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false

		for _, existing := range dst {
			if existing == v {
				found = true

				break
			}
		}

		if !found {
			dst = append(dst, v)
		}
	}

	return dst
}
