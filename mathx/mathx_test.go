package mathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundPlaces(t *testing.T) {
	assert.Equal(t, 25.13, RoundPlaces(25.12987, 2))
	assert.Equal(t, 0.1235, RoundPlaces(0.123456, 4))
	assert.Equal(t, -1.5, RoundPlaces(-1.49999, 1))
	assert.Equal(t, 0.0, RoundPlaces(0.00004, 4))
}
