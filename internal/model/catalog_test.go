package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogOrdinals(t *testing.T) {
	assert.Len(t, Catalog, 12)
	for i, a := range Catalog {
		assert.Equal(t, uint32(i+1), a.Ordinal)
		assert.NotEmpty(t, a.Name)
	}
}

func TestAnimalName(t *testing.T) {
	assert.Equal(t, "rat", AnimalName(1))
	assert.Equal(t, "pig", AnimalName(12))
	assert.Equal(t, "", AnimalName(0))
	assert.Equal(t, "", AnimalName(13))
}

func TestValidOrdinal(t *testing.T) {
	assert.False(t, ValidOrdinal(0))
	assert.True(t, ValidOrdinal(1))
	assert.True(t, ValidOrdinal(12))
	assert.False(t, ValidOrdinal(13))
}

func TestCapacityLineRemaining(t *testing.T) {
	assert.Equal(t, int64(40_000), CapacityLine{LimitCents: 100_000, SoldCents: 60_000}.Remaining())
	assert.Equal(t, int64(0), CapacityLine{LimitCents: 100_000, SoldCents: 100_000}.Remaining())
	// Over-allocation from a late settlement success still reads as zero.
	assert.Equal(t, int64(0), CapacityLine{LimitCents: 100_000, SoldCents: 130_000}.Remaining())
}
