package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagPattern(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple tag", "per §102 the score is bounded", []string{"§102"}},
		{"decimal tag", "see §300.5 for thresholds", []string{"§300.5"}},
		{"tag with trailing prose", "§100.3 version sync applies", []string{"§100.3"}},
		{"multiple tags", "§101§102", []string{"§101", "§102"}},
		{"two digits rejected", "§99 is not a clause", nil},
		{"no tag", "plain text", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TagPattern.FindAllString(tt.input, -1))
		})
	}
}

func TestRegistry_ContainsCoreVocabulary(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Contains("§102"))
	assert.True(t, r.Contains("§300.5"))
	assert.False(t, r.Contains("§999"))
}

func TestRegistry_SecondaryExtendsButNeverShadows(t *testing.T) {
	primary := []Clause{{Tag: "§100.3", Name: "Version Synchronization"}}
	secondary := []Clause{
		{Tag: "§100.3", Name: "Shadow Attempt"},
		{Tag: "§400", Name: "Illustrative Only"},
	}
	r := NewRegistryWith(primary, secondary)

	assert.True(t, r.Contains("§400"))

	c, ok := r.Lookup("§100.3")
	require.True(t, ok)
	assert.Equal(t, "Version Synchronization", c.Name)

	assert.Equal(t, 2, r.Size())
}

func TestRegistry_VocabularyIsPrimaryOnlyAndSorted(t *testing.T) {
	primary := []Clause{{Tag: "§301"}, {Tag: "§102"}}
	secondary := []Clause{{Tag: "§400"}}
	r := NewRegistryWith(primary, secondary)

	assert.Equal(t, []string{"§102", "§301"}, r.Vocabulary())
}
