package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDUnique(t *testing.T) {
	u := NewUUID()
	assert.NotEqual(t, u.ID(), u.ID())
}

func TestStaticIDs(t *testing.T) {
	u := NewStaticIDs("A", "B")
	for _, expected := range []string{"A", "B", "A", "B", "A"} {
		assert.Equal(t, expected, u.ID())
	}
}

func TestCorrelation(t *testing.T) {
	a := Correlation("run-1", "inst-1", "X")
	assert.Equal(t, a, Correlation("run-1", "inst-1", "X"))
	assert.NotEqual(t, a, Correlation("run-1", "inst-1", "Y"))
	assert.NotEqual(t, a, Correlation("run-1", "inst-2", "X"))
	assert.Len(t, a, 36)
}
