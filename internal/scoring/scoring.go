// Package scoring turns a page's vote distribution into a rating. The
// strategy is pluggable, at the choice of wiki administrators.
package scoring

import "math"

// Votes is the distribution of votes on a page: vote value to count.
type Votes struct {
	distribution map[int16]uint32
	count        uint32
}

// NewVotes builds a distribution from vote value counts.
func NewVotes(distribution map[int16]uint32) Votes {
	var count uint32
	for _, n := range distribution {
		count += n
	}
	return Votes{distribution: distribution, count: count}
}

// CountFor returns how many votes were cast with the given value.
func (v Votes) CountFor(vote int16) uint32 {
	return v.distribution[vote]
}

// Count returns the total number of votes.
func (v Votes) Count() uint32 {
	return v.count
}

// Each calls fn for every (vote, count) pair.
func (v Votes) Each(fn func(vote int16, count uint32)) {
	for vote, count := range v.distribution {
		fn(vote, count)
	}
}

// Scorer determines a rating from votes.
type Scorer interface {
	Score(votes Votes) float32
}

// Wikidot is the Wikidot-compatible scorer: the sum of all votes,
// equivalent to ups minus downs.
type Wikidot struct{}

func (Wikidot) Score(votes Votes) float32 {
	var score float32
	votes.Each(func(vote int16, count uint32) {
		score += float32(vote) * float32(count)
	})
	return score
}

// Average returns the mean of all votes cast.
type Average struct{}

func (Average) Score(votes Votes) float32 {
	if votes.Count() == 0 {
		return 0
	}
	return Wikidot{}.Score(votes) / float32(votes.Count())
}

// Percent gives the percentage of votes which were upvotes, treating
// neutral votes as half an upvote.
type Percent struct{}

func (Percent) Score(votes Votes) float32 {
	if votes.Count() == 0 {
		return 0
	}

	positive := float32(votes.CountFor(1))
	neutral := float32(votes.CountFor(0)) * 0.5
	total := float32(votes.Count())

	return (positive + neutral) / total * 100
}

// Wilson scores by the lower bound of a Wilson score confidence interval
// at 95%, ranking pages by how confident we are in their upvote ratio.
// See https://www.evanmiller.org/how-not-to-sort-by-average-rating.html
type Wilson struct{}

func (Wilson) Score(votes Votes) float32 {
	const z = 1.96

	positive := float64(votes.CountFor(1))
	negative := float64(votes.CountFor(-1))
	total := positive + negative
	if total == 0 {
		return 0
	}

	phat := positive / total
	bound := (phat + z*z/(2*total) -
		z*math.Sqrt((phat*(1-phat)+z*z/(4*total))/total)) /
		(1 + z*z/total)

	return float32(bound)
}

// Null scores everything zero, for wikis with ratings disabled.
type Null struct{}

func (Null) Score(Votes) float32 {
	return 0
}
