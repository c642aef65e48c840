package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	noVotes       = NewVotes(nil)
	positiveVotes = NewVotes(map[int16]uint32{1: 20})
	posAndNeutral = NewVotes(map[int16]uint32{1: 12, 0: 8})
	negativeVotes = NewVotes(map[int16]uint32{-1: 5})
	neutralVotes  = NewVotes(map[int16]uint32{0: 8})
	mixedVotes1   = NewVotes(map[int16]uint32{1: 46, 0: 18, -1: 20})
	mixedVotes2   = NewVotes(map[int16]uint32{1: 20, 0: 36, -1: 15})
)

func TestWikidotScoring(t *testing.T) {
	cases := []struct {
		votes Votes
		score float32
	}{
		{noVotes, 0},
		{positiveVotes, 20},
		{posAndNeutral, 12},
		{negativeVotes, -5},
		{neutralVotes, 0},
		{mixedVotes1, 26},
		{mixedVotes2, 5},
	}
	for _, c := range cases {
		assert.InDelta(t, c.score, Wikidot{}.Score(c.votes), 0.000001)
	}
}

func TestAverageScoring(t *testing.T) {
	assert.InDelta(t, 0, Average{}.Score(noVotes), 0.000001)
	assert.InDelta(t, 1.0, Average{}.Score(positiveVotes), 0.000001)
	assert.InDelta(t, 0.6, Average{}.Score(posAndNeutral), 0.000001)
	assert.InDelta(t, -1.0, Average{}.Score(negativeVotes), 0.000001)
	assert.InDelta(t, float32(26)/84, Average{}.Score(mixedVotes1), 0.000001)
}

func TestPercentScoring(t *testing.T) {
	cases := []struct {
		votes Votes
		score float32
	}{
		{noVotes, 0},
		{positiveVotes, 100},
		{posAndNeutral, 80},
		{negativeVotes, 0},
		{neutralVotes, 50},
		{mixedVotes1, 65.476191},
		{mixedVotes2, 53.521126},
	}
	for _, c := range cases {
		assert.InDelta(t, c.score, Percent{}.Score(c.votes), 0.001)
	}
}

func TestWilsonScoring(t *testing.T) {
	// No up/down votes at all: no confidence to speak of.
	assert.Zero(t, Wilson{}.Score(noVotes))
	assert.Zero(t, Wilson{}.Score(neutralVotes))

	// All-positive beats mixed, mixed beats all-negative.
	allPos := Wilson{}.Score(positiveVotes)
	mixed := Wilson{}.Score(mixedVotes1)
	allNeg := Wilson{}.Score(negativeVotes)

	assert.Greater(t, allPos, mixed)
	assert.Greater(t, mixed, allNeg)

	// Bound is a proportion
	assert.GreaterOrEqual(t, allPos, float32(0))
	assert.LessOrEqual(t, allPos, float32(1))

	// More votes at the same ratio raise confidence.
	few := Wilson{}.Score(NewVotes(map[int16]uint32{1: 8, -1: 2}))
	many := Wilson{}.Score(NewVotes(map[int16]uint32{1: 80, -1: 20}))
	assert.Greater(t, many, few)
}

func TestNullScoring(t *testing.T) {
	assert.Zero(t, Null{}.Score(mixedVotes1))
}
