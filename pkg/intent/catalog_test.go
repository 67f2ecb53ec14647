package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/models"
)

func TestCatalogStagesAreCanonical(t *testing.T) {
	known := make(map[string]bool, len(models.CanonicalStageOrder))
	for _, s := range models.CanonicalStageOrder {
		known[s] = true
	}

	for label, def := range Catalog {
		for _, s := range def.RequiredStages {
			assert.True(t, known[s], "%s requires unknown stage %q", label, s)
		}
		for _, s := range def.OptionalStages {
			assert.True(t, known[s], "%s lists unknown optional stage %q", label, s)
		}
		for s := range def.EssentialStages {
			assert.True(t, known[s], "%s marks unknown essential stage %q", label, s)
		}
	}
}

func TestCatalogStageOrderFollowsPipeline(t *testing.T) {
	rank := make(map[string]int, len(models.CanonicalStageOrder))
	for i, s := range models.CanonicalStageOrder {
		rank[s] = i
	}

	for label, def := range Catalog {
		last := -1
		for _, s := range def.RequiredStages {
			require.Greater(t, rank[s], last, "%s lists %q out of pipeline order", label, s)
			last = rank[s]
		}
	}
}

func TestLookupFallsBackToUnknown(t *testing.T) {
	def := Lookup(Intent("made_up"))
	assert.Equal(t, Catalog[Unknown], def)

	full := Lookup(FullEstimation)
	assert.True(t, full.RequiresFiles)
	assert.True(t, full.EssentialStages[models.StageEstimate])
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(FullEstimation))
	assert.True(t, Valid(Unknown))
	assert.False(t, Valid(Intent("gibberish")))
	assert.False(t, Valid(Intent("")))
}
