package search

import (
	"sort"

	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

// Scorer fuses lexical and semantic result sets into one ranked,
// per-award-deduplicated list.
//
// final_score = alpha*semantic + beta*lexical, with a missing side
// contributing 0. The award-level semantic score is the best matching
// chunk (max, not sum), so many weak chunk matches never outrank one
// strong match. The weighted sum is intentionally unnormalized: absolute
// scores scale with beta, matching the historical ranking behavior.
type Scorer struct {
	Alpha float64 // semantic weight
	Beta  float64 // lexical boost
}

// Fuse combines both result sets and returns at most topK hits. With
// Beta == 0 the output is restricted to awards with a semantic hit (pure
// semantic ranking); with Alpha == 0, to awards with a lexical hit.
func (s Scorer) Fuse(lexical []models.LexicalHit, semantic []models.SemanticHit, topK int) []models.SearchHit {
	lexBest := make(map[string]models.LexicalHit, len(lexical))
	for _, h := range lexical {
		if prev, ok := lexBest[h.AwardID]; !ok || h.Score > prev.Score {
			lexBest[h.AwardID] = h
		}
	}
	semGroups := groupSemantic(semantic)

	seen := make(map[string]struct{}, len(lexBest)+len(semGroups))
	hits := make([]models.SearchHit, 0, len(lexBest)+len(semGroups))
	consider := func(awardID string) {
		if _, ok := seen[awardID]; ok {
			return
		}
		seen[awardID] = struct{}{}

		lex, hasLex := lexBest[awardID]
		sem, hasSem := semGroups[awardID]
		if s.Beta == 0 && !hasSem {
			return
		}
		if s.Alpha == 0 && !hasLex {
			return
		}

		hit := models.SearchHit{AwardID: awardID}
		if hasSem {
			score := sem.best.Score
			hit.SemanticScore = &score
			hit.AwardNumber = sem.best.AwardNumber
			hit.Title = sem.best.Title
			hit.Agency = sem.best.Agency
			hit.Institution = sem.best.Institution
			hit.PI = sem.best.PI
			hit.Status = sem.best.Status
			hit.URL = sem.best.URL
			hit.Snippet = sem.best.Text
			hit.BestChunkIndex = sem.best.ChunkIndex
			hit.Chunks = sem.chunks
		}
		if hasLex {
			score := lex.Score
			hit.LexicalScore = &score
			// The lexical side carries the headline snippet and canonical
			// display fields; prefer them when present.
			if lex.AwardNumber != "" {
				hit.AwardNumber = lex.AwardNumber
			}
			if lex.Title != "" {
				hit.Title = lex.Title
			}
			if lex.Agency != "" {
				hit.Agency = lex.Agency
			}
			if lex.Institution != "" {
				hit.Institution = lex.Institution
			}
			if lex.PI != "" {
				hit.PI = lex.PI
			}
			if lex.Status != "" {
				hit.Status = lex.Status
			}
			if lex.URL != "" {
				hit.URL = lex.URL
			}
			if lex.Snippet != "" {
				hit.Snippet = lex.Snippet
			}
		}
		hit.FinalScore = s.Alpha*hit.Semantic() + s.Beta*hit.Lexical()
		hits = append(hits, hit)
	}
	for _, h := range lexical {
		consider(h.AwardID)
	}
	for _, h := range semantic {
		consider(h.AwardID)
	}

	sortHits(hits)
	return truncate(hits, topK)
}

// DedupLexical groups raw lexical hits into one SearchHit per award,
// ranked by lexical score.
func DedupLexical(lexical []models.LexicalHit, topK int) []models.SearchHit {
	best := make(map[string]*models.SearchHit, len(lexical))
	order := make([]string, 0, len(lexical))
	for _, h := range lexical {
		cur, ok := best[h.AwardID]
		if !ok {
			score := h.Score
			best[h.AwardID] = &models.SearchHit{
				AwardID:      h.AwardID,
				AwardNumber:  h.AwardNumber,
				Title:        h.Title,
				Agency:       h.Agency,
				Institution:  h.Institution,
				PI:           h.PI,
				Status:       h.Status,
				URL:          h.URL,
				Snippet:      h.Snippet,
				FinalScore:   h.Score,
				LexicalScore: &score,
			}
			order = append(order, h.AwardID)
			continue
		}
		if h.Score > *cur.LexicalScore {
			*cur.LexicalScore = h.Score
			cur.FinalScore = h.Score
			cur.Snippet = h.Snippet
		}
	}

	hits := make([]models.SearchHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *best[id])
	}
	sortHits(hits)
	return truncate(hits, topK)
}

// DedupSemantic groups raw semantic hits into one SearchHit per award,
// carrying every contributing chunk with its own score. The award score is
// the best chunk.
func DedupSemantic(semantic []models.SemanticHit, topK int) []models.SearchHit {
	groups := groupSemantic(semantic)

	hits := make([]models.SearchHit, 0, len(groups))
	for id, g := range groups {
		score := g.best.Score
		hits = append(hits, models.SearchHit{
			AwardID:        id,
			AwardNumber:    g.best.AwardNumber,
			Title:          g.best.Title,
			Agency:         g.best.Agency,
			Institution:    g.best.Institution,
			PI:             g.best.PI,
			Status:         g.best.Status,
			URL:            g.best.URL,
			Snippet:        g.best.Text,
			FinalScore:     g.best.Score,
			SemanticScore:  &score,
			BestChunkIndex: g.best.ChunkIndex,
			Chunks:         g.chunks,
		})
	}
	sortHits(hits)
	return truncate(hits, topK)
}

type semanticGroup struct {
	best   models.SemanticHit
	chunks []models.ChunkMatch
}

func groupSemantic(semantic []models.SemanticHit) map[string]semanticGroup {
	groups := make(map[string]semanticGroup)
	for _, h := range semantic {
		g, ok := groups[h.AwardID]
		if !ok || h.Score > g.best.Score {
			g.best = h
		}
		if !containsChunk(g.chunks, h.ChunkIndex) {
			g.chunks = append(g.chunks, models.ChunkMatch{
				ChunkIndex:    h.ChunkIndex,
				Text:          h.Text,
				SemanticScore: h.Score,
			})
		}
		groups[h.AwardID] = g
	}
	for id, g := range groups {
		sort.SliceStable(g.chunks, func(i, j int) bool {
			return g.chunks[i].SemanticScore > g.chunks[j].SemanticScore
		})
		groups[id] = g
	}
	return groups
}

func containsChunk(chunks []models.ChunkMatch, index int) bool {
	for _, c := range chunks {
		if c.ChunkIndex == index {
			return true
		}
	}
	return false
}

// sortHits orders by final score desc, then semantic desc, then lexical
// desc, then award id asc. The comparator is a total order, so ranking is
// deterministic.
func sortHits(hits []models.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := &hits[i], &hits[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Semantic() != b.Semantic() {
			return a.Semantic() > b.Semantic()
		}
		if a.Lexical() != b.Lexical() {
			return a.Lexical() > b.Lexical()
		}
		return a.AwardID < b.AwardID
	})
}

func truncate(hits []models.SearchHit, topK int) []models.SearchHit {
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
