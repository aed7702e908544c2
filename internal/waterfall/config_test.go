package waterfall

import (
	"testing"

	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var known = extract.KnownProviders

func TestResolveChain(t *testing.T) {
	tests := []struct {
		name     string
		primary  string
		explicit []string
		want     []extract.ProviderID
	}{
		{
			name:    "primary only appends the rest",
			primary: "openai",
			want:    []extract.ProviderID{"openai", "google", "anthropic"},
		},
		{
			name:     "explicit dedupes and keeps primary first",
			primary:  "anthropic",
			explicit: []string{"openai", "anthropic", "OPENAI"},
			want:     []extract.ProviderID{"anthropic", "openai", "google"},
		},
		{
			name:     "unknown primary with valid chain",
			primary:  "mistral",
			explicit: []string{" google "},
			want:     []extract.ProviderID{"google", "openai", "anthropic"},
		},
		{
			name:     "unknown names dropped",
			primary:  "google",
			explicit: []string{"cohere", "openai"},
			want:     []extract.ProviderID{"google", "openai", "anthropic"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveChain(tt.primary, tt.explicit, known)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveChain_EmptyIsConfigError(t *testing.T) {
	_, err := ResolveChain("unknownprovider", nil, known)
	assert.ErrorIs(t, err, ErrEmptyChain)

	_, err = ResolveChain("", []string{"", "nope"}, known)
	assert.ErrorIs(t, err, ErrEmptyChain)

	_, err = ResolveChain("openai", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestResolveChain_NoDuplicates(t *testing.T) {
	got, err := ResolveChain("google", []string{"google", "google", "anthropic"}, known)
	require.NoError(t, err)
	seen := map[extract.ProviderID]bool{}
	for _, id := range got {
		assert.False(t, seen[id], id)
		seen[id] = true
	}
	assert.Len(t, got, len(known))
}

func TestSplitChain(t *testing.T) {
	assert.Equal(t, []string{"openai", "anthropic"}, SplitChain(" openai, ,anthropic ,"))
	assert.Nil(t, SplitChain(""))
}

func TestParseTieBreak(t *testing.T) {
	assert.Equal(t, TieEarliest, ParseTieBreak("Earliest"))
	assert.Equal(t, TieLatest, ParseTieBreak("latest"))
	assert.Equal(t, TieLatest, ParseTieBreak("whatever"))
	assert.Equal(t, TieLatest, ParseTieBreak(""))
}

func TestThresholdOrDefault(t *testing.T) {
	assert.Equal(t, 60, ThresholdOrDefault(0))
	assert.Equal(t, 60, ThresholdOrDefault(-5))
	assert.Equal(t, 45, ThresholdOrDefault(45))
	assert.Equal(t, 100, ThresholdOrDefault(150))
}
