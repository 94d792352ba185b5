package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGrouperClustersSamePrefixWithinWindow(t *testing.T) {
	g := newGrouper(60 * time.Second)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	id1 := g.assign("/inbox/batch1/receipt1.jpg", base)
	id2 := g.assign("/inbox/batch1/receipt2.jpg", base.Add(30*time.Second))

	require.Equal(t, id1, id2)
}

func TestGrouperSeparatesDifferentPrefixes(t *testing.T) {
	g := newGrouper(60 * time.Second)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	id1 := g.assign("/inbox/batch1/receipt1.jpg", base)
	id2 := g.assign("/inbox/batch2/receipt1.jpg", base)

	require.NotEqual(t, id1, id2)
}

func TestGrouperSeparatesOutsideWindow(t *testing.T) {
	g := newGrouper(60 * time.Second)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	id1 := g.assign("/inbox/batch1/receipt1.jpg", base)
	id2 := g.assign("/inbox/batch1/receipt2.jpg", base.Add(5*time.Minute))

	require.NotEqual(t, id1, id2)
}
