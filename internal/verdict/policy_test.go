package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		tally  Tally
		want   bool
	}{
		{"any with none", AnyFrame{}, Tally{Sampled: 5}, false},
		{"any with one", AnyFrame{}, Tally{Sampled: 5, Positive: 1}, true},
		{"count below", MinCount{N: 3}, Tally{Sampled: 5, Positive: 2}, false},
		{"count reached", MinCount{N: 3}, Tally{Sampled: 5, Positive: 3}, true},
		{"count zero acts as one", MinCount{N: 0}, Tally{Sampled: 5}, false},
		{"ratio below", MinRatio{R: 0.5}, Tally{Sampled: 5, Positive: 2}, false},
		{"ratio reached", MinRatio{R: 0.4}, Tally{Sampled: 5, Positive: 2}, true},
		{"ratio zero still needs a hit", MinRatio{R: 0}, Tally{Sampled: 5}, false},
		{"ratio with nothing sampled", MinRatio{R: 0}, Tally{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Decide(tt.tally))
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, AnyFrame{}, p)

	p, err = ParsePolicy("min_ratio", 0, 0.3)
	require.NoError(t, err)
	assert.Equal(t, MinRatio{R: 0.3}, p)

	_, err = ParsePolicy("min_count", 0, 0)
	assert.Error(t, err)
	_, err = ParsePolicy("min_ratio", 0, 1.5)
	assert.Error(t, err)
	_, err = ParsePolicy("vote", 0, 0)
	assert.Error(t, err)
}

func TestParseEvidenceRule(t *testing.T) {
	r, err := ParseEvidenceRule("")
	require.NoError(t, err)
	assert.Equal(t, EvidenceFirst, r)

	r, err = ParseEvidenceRule("last")
	require.NoError(t, err)
	assert.Equal(t, "last", r.String())

	_, err = ParseEvidenceRule("middle")
	assert.Error(t, err)
}
