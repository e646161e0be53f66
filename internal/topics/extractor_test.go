package topics

import "testing"

func TestTokenize(t *testing.T) {
	tokens := tokenize("The Quick brown-fox jumps over it's lazy DOG! a an 12")
	want := map[string]bool{"quick": true, "brown-fox": true, "jumps": true, "over": true, "lazy": true, "dog": true}
	if len(tokens) != len(want) {
		t.Fatalf("got %v tokens, want %d matching %v", tokens, len(want), want)
	}
	for _, tok := range tokens {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
	}
}

func TestExtractEmpty(t *testing.T) {
	fp := Extract(nil, Options{})
	if fp.PostCount != 0 || len(fp.Clusters) != 0 {
		t.Fatalf("expected empty fingerprint, got %+v", fp)
	}
}

func TestExtractRanksDistinctiveTerms(t *testing.T) {
	docs := []string{
		"machine learning models need careful evaluation",
		"evaluation of machine learning models is critical",
		"the weather today is sunny and warm",
	}
	fp := Extract(docs, Options{TopNKeywords: 10, MaxClusters: 5})
	if fp.PostCount != 3 {
		t.Fatalf("expected post_count 3, got %d", fp.PostCount)
	}
	if len(fp.Clusters) == 0 {
		t.Fatal("expected at least one cluster")
	}

	flat := fp.FlatKeywordWeights()
	if flat["machine"] <= flat["sunny"] {
		t.Errorf("expected 'machine' (appears in 2 docs) to outweigh 'sunny' (1 doc); got machine=%v sunny=%v",
			flat["machine"], flat["sunny"])
	}
}

func TestExtractClusterWeightsSumToAtMostOne(t *testing.T) {
	docs := []string{
		"cats and dogs are great pets for families",
		"dogs love to play fetch in the park",
		"cats enjoy napping in sunny windows all day",
		"stock markets rallied after the earnings report",
		"quarterly earnings beat analyst expectations broadly",
	}
	fp := Extract(docs, Options{TopNKeywords: 20, MaxClusters: 4})

	var total float64
	for _, c := range fp.Clusters {
		total += c.Weight
	}
	if total > 1.0001 {
		t.Errorf("cluster weights sum to %v, want <= 1.0", total)
	}
}

func TestWeightedJaccardOverlap(t *testing.T) {
	a := map[string]float64{"politics": 0.5, "sports": 0.3, "music": 0.2}
	b := map[string]float64{"politics": 0.4, "sports": 0.1, "cooking": 0.5}

	overlap := WeightedJaccardOverlap(a, b)
	if overlap <= 0 || overlap >= 1 {
		t.Fatalf("expected overlap strictly between 0 and 1, got %v", overlap)
	}

	identical := WeightedJaccardOverlap(a, a)
	if identical < overlap {
		t.Errorf("identical maps should overlap at least as much as partial ones: identical=%v partial=%v", identical, overlap)
	}

	if WeightedJaccardOverlap(nil, b) != 0 {
		t.Error("expected zero overlap when one map is empty")
	}
}

func TestWeightedJaccardOverlapDisjoint(t *testing.T) {
	a := map[string]float64{"alpha": 1.0}
	b := map[string]float64{"beta": 1.0}
	if got := WeightedJaccardOverlap(a, b); got != 0 {
		t.Errorf("expected 0 overlap for disjoint term sets, got %v", got)
	}
}
