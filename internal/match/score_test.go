package match

import "testing"

func TestAmountEqualityWithinTolerance(t *testing.T) {
	if got := amountEquality(10000, 10050, 0.01); got != 1 {
		t.Fatalf("expected amounts within 1%% tolerance to match, got %v", got)
	}
	if got := amountEquality(10000, 11500, 0.01); got != 0 {
		t.Fatalf("expected amounts outside tolerance to not match, got %v", got)
	}
}

func TestAmountEqualityZeroAmounts(t *testing.T) {
	if got := amountEquality(0, 0, 0.01); got != 1 {
		t.Fatalf("expected two zero amounts to match, got %v", got)
	}
	if got := amountEquality(0, 100, 0.01); got != 0 {
		t.Fatalf("expected zero vs nonzero to not match, got %v", got)
	}
}

func TestNameSimilarityExactAndFuzzy(t *testing.T) {
	if got := nameSimilarity("Starbucks Coffee", "starbucks coffee"); got != 1 {
		t.Fatalf("expected case-insensitive exact match to score 1, got %v", got)
	}
	close := nameSimilarity("Starbucks Coffee Co", "Starbucks Coffee Company")
	if close <= 0.5 || close >= 1 {
		t.Fatalf("expected near-identical names to score highly but not exactly 1, got %v", close)
	}
	far := nameSimilarity("Starbucks", "Totally Unrelated Vendor LLC")
	if far >= close {
		t.Fatalf("expected unrelated names to score lower than near-identical ones: far=%v close=%v", far, close)
	}
}

func TestNameSimilarityEmptyInput(t *testing.T) {
	if got := nameSimilarity("", "anything"); got != 0 {
		t.Fatalf("expected empty input to score 0, got %v", got)
	}
}

func TestTemporalProximityDecay(t *testing.T) {
	window := int64(7 * 24 * 3600 * 1000)
	if got := temporalProximity(0, window); got != 1 {
		t.Fatalf("expected zero distance to score 1, got %v", got)
	}
	if got := temporalProximity(window, window); got != 0 {
		t.Fatalf("expected distance at window edge to score 0, got %v", got)
	}
	mid := temporalProximity(window/2, window)
	if mid <= 0 || mid >= 1 {
		t.Fatalf("expected midpoint distance to score strictly between 0 and 1, got %v", mid)
	}
}

func TestGroupBonusMatchesSameGroup(t *testing.T) {
	a, b := "g1", "g1"
	if got := groupBonus(&a, &b); got != 1 {
		t.Fatalf("expected matching group ids to score 1, got %v", got)
	}
	c := "g2"
	if got := groupBonus(&a, &c); got != 0 {
		t.Fatalf("expected differing group ids to score 0, got %v", got)
	}
	if got := groupBonus(nil, &b); got != 0 {
		t.Fatalf("expected nil group id to score 0, got %v", got)
	}
}
