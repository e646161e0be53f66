// Package topics extracts a TF-IDF keyword/cluster topic fingerprint from a
// set of documents (the protected user's recent posts), and supplies a
// weighted-Jaccard overlap fallback for when the embedding model is
// unavailable.
package topics

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
)

// tokenPattern splits text into lowercase word tokens. Compiled once at
// package init, never per call.
var tokenPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z'-]{1,}`)

// minTokenLength drops tokens shorter than this many characters.
const minTokenLength = 3

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "with": true, "this": true, "that": true, "was": true,
	"have": true, "has": true, "had": true, "from": true, "they": true, "will": true,
	"would": true, "there": true, "their": true, "what": true, "about": true, "which": true,
	"when": true, "just": true, "also": true, "can": true, "its": true, "into": true,
	"then": true, "than": true, "them": true, "been": true, "were": true,
	"all": true, "out": true, "who": true, "get": true, "one": true, "like": true,
	"more": true, "how": true, "our": true, "she": true, "him": true, "his": true,
	"her": true, "here": true, "some": true, "said": true, "did": true, "does": true,
}

// tokenize lowercases, strips punctuation via tokenPattern, and drops
// stop-words and short tokens.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := tokenPattern.FindAllString(lower, -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ReplaceAll(t, "'", "")
		t = strings.Trim(t, "'-")
		if len(t) < minTokenLength || stopWords[t] {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// Options configures fingerprint extraction. A zero Options uses package
// defaults (60 keywords, 10 clusters).
type Options struct {
	TopNKeywords int
	MaxClusters  int
}

func (o Options) withDefaults() Options {
	if o.TopNKeywords <= 0 {
		o.TopNKeywords = constants.DefaultTopNKeywords
	}
	if o.MaxClusters <= 0 {
		o.MaxClusters = constants.DefaultMaxClusters
	}
	return o
}

type termStats struct {
	term     string
	tf       float64
	idf      float64
	tfidf    float64
	docIDs   map[int]bool
}

// Extract builds a TopicFingerprint from docs (typically the protected
// user's last ~500 posts): TF-IDF ranks the top-N terms, then those terms
// are grouped into clusters by co-occurrence — terms that tend to appear in
// the same documents are grouped together. Cluster weight is proportional
// to its members' aggregate TF-IDF mass; weights sum to <= 1.0. The
// returned fingerprint has no centroid; callers attach one separately via
// the embedding engine.
func Extract(docs []string, opts Options) models.TopicFingerprint {
	opts = opts.withDefaults()

	if len(docs) == 0 {
		return models.TopicFingerprint{PostCount: 0}
	}

	docTokens := make([][]string, len(docs))
	for i, d := range docs {
		docTokens[i] = tokenize(d)
	}

	stats := computeTFIDF(docTokens)
	top := topN(stats, opts.TopNKeywords)
	clusters := clusterByCooccurrence(top, docTokens, opts.MaxClusters)

	return models.TopicFingerprint{
		Clusters:  clusters,
		PostCount: len(docs),
	}
}

// computeTFIDF scores every distinct term across docTokens.
func computeTFIDF(docTokens [][]string) map[string]*termStats {
	stats := make(map[string]*termStats)
	n := float64(len(docTokens))

	for docIdx, tokens := range docTokens {
		counts := make(map[string]int)
		for _, t := range tokens {
			counts[t]++
		}
		for term, count := range counts {
			s, ok := stats[term]
			if !ok {
				s = &termStats{term: term, docIDs: make(map[int]bool)}
				stats[term] = s
			}
			s.tf += float64(count)
			s.docIDs[docIdx] = true
		}
	}

	for _, s := range stats {
		df := float64(len(s.docIDs))
		// Standard smoothed IDF: log(N/df) + 1, guards df=0 and keeps terms
		// present in every document from going to exactly zero weight.
		idf := 1.0
		if df > 0 {
			idf += logBase(n/df, 2)
		}
		s.idf = idf
		s.tfidf = s.tf * s.idf
	}
	return stats
}

func logBase(x, base float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log(x) / math.Log(base)
}

func topN(stats map[string]*termStats, n int) []*termStats {
	all := make([]*termStats, 0, len(stats))
	for _, s := range stats {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].tfidf != all[j].tfidf {
			return all[i].tfidf > all[j].tfidf
		}
		return all[i].term < all[j].term
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// clusterByCooccurrence groups the top terms into at most maxClusters
// clusters using greedy agglomeration by document co-occurrence: starting
// from the highest-weighted ungrouped term, absorb every other ungrouped
// term whose co-occurrence with it (shared-document Jaccard over docTokens)
// reaches cooccurrenceThreshold, then move to the next ungrouped seed. This
// is a stable, deterministic method satisfying the spec's only requirement
// — that keywords within a cluster co-occur more with each other than with
// keywords in other clusters.
const cooccurrenceThreshold = 0.05

func clusterByCooccurrence(top []*termStats, docTokens [][]string, maxClusters int) []models.TopicCluster {
	if len(top) == 0 {
		return nil
	}

	termDocs := make(map[string]map[int]bool, len(top))
	for _, s := range top {
		termDocs[s.term] = s.docIDs
	}

	cooccur := func(a, b string) float64 {
		da, db := termDocs[a], termDocs[b]
		if len(da) == 0 || len(db) == 0 {
			return 0
		}
		inter := 0
		for d := range da {
			if db[d] {
				inter++
			}
		}
		union := len(da) + len(db) - inter
		if union == 0 {
			return 0
		}
		return float64(inter) / float64(union)
	}

	assigned := make(map[string]bool, len(top))
	var clusters []models.TopicCluster
	totalWeight := 0.0
	for _, s := range top {
		totalWeight += s.tfidf
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	for _, seed := range top {
		if assigned[seed.term] || len(clusters) >= maxClusters {
			continue
		}
		members := []*termStats{seed}
		assigned[seed.term] = true
		for _, cand := range top {
			if assigned[cand.term] {
				continue
			}
			if cooccur(seed.term, cand.term) >= cooccurrenceThreshold {
				members = append(members, cand)
				assigned[cand.term] = true
			}
		}

		clusterWeight := 0.0
		keywords := make([]models.KeywordWeight, 0, len(members))
		for _, m := range members {
			clusterWeight += m.tfidf
			keywords = append(keywords, models.KeywordWeight{Term: m.term, Weight: m.tfidf})
		}
		sort.Slice(keywords, func(i, j int) bool {
			if keywords[i].Weight != keywords[j].Weight {
				return keywords[i].Weight > keywords[j].Weight
			}
			return keywords[i].Term < keywords[j].Term
		})

		clusters = append(clusters, models.TopicCluster{
			Label:    seed.term,
			Keywords: keywords,
			Weight:   clusterWeight / totalWeight,
		})
	}

	// Any terms left unassigned once maxClusters is reached join the last
	// cluster rather than being silently dropped.
	if len(clusters) > 0 {
		var leftover []*termStats
		for _, s := range top {
			if !assigned[s.term] {
				leftover = append(leftover, s)
			}
		}
		if len(leftover) > 0 {
			last := &clusters[len(clusters)-1]
			for _, s := range leftover {
				last.Weight += s.tfidf / totalWeight
				last.Keywords = append(last.Keywords, models.KeywordWeight{Term: s.term, Weight: s.tfidf})
			}
		}
	}

	return clusters
}

// WeightedJaccardOverlap computes a Jaccard-style overlap between two flat
// term->weight maps, used as the topic-overlap fallback when the embedding
// model is unavailable. Unlike plain set Jaccard, each shared term
// contributes min(weightA, weightB) to the intersection and
// max(weightA, weightB) to the union, so heavily-weighted shared topics
// count for more than incidental overlap.
func WeightedJaccardOverlap(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var intersection, union float64
	seen := make(map[string]bool, len(a)+len(b))
	for term, wa := range a {
		seen[term] = true
		wb := b[term]
		intersection += minF(wa, wb)
		union += maxF(wa, wb)
	}
	for term, wb := range b {
		if seen[term] {
			continue
		}
		union += wb
	}
	if union == 0 {
		return 0
	}
	return intersection / union
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
