package ladder

import (
	"strings"
	"unicode/utf8"

	"github.com/cookcard/ingest/internal/normalize"
	"github.com/cookcard/ingest/pkg/platform"
)

const (
	minCommentChars  = 40
	likesBonusAt     = 10
	ingredientsBonus = 2
	creatorBonus     = 2
)

// IsCandidate reports whether a comment is worth scoring at all.
func IsCandidate(text string) bool {
	return normalize.HasMeasurement(text) ||
		normalize.CountFoodNouns(text) >= 2 ||
		normalize.CountBullets(text) >= 2
}

// ScoreComment rates how recipe-like a comment is. Short comments score
// zero regardless of content.
func ScoreComment(c platform.Comment, creator string) int {
	text := strings.TrimSpace(c.Text)
	if utf8.RuneCountInString(text) < minCommentChars {
		return 0
	}

	score := min(normalize.CountMeasurements(text)*2, 6)
	score += min(normalize.CountQuantities(text), 4)
	score += min(normalize.CountFoodNouns(text), 5)
	score += min(normalize.CountBullets(text), 4)
	if strings.Contains(strings.ToLower(text), "ingredients") {
		score += ingredientsBonus
	}
	if creator != "" && strings.EqualFold(strings.TrimPrefix(c.Author, "@"), strings.TrimPrefix(creator, "@")) {
		score += creatorBonus
	}
	if c.Likes >= likesBonusAt {
		score++
	}
	return score
}

// BestComment picks the highest scoring candidate at or above minScore.
// Ties keep the earlier comment, which the platform ranked higher.
func BestComment(comments []platform.Comment, creator string, minScore int) (platform.Comment, bool) {
	var (
		best      platform.Comment
		bestScore = -1
	)
	for _, c := range comments {
		if !IsCandidate(c.Text) {
			continue
		}
		if s := ScoreComment(c, creator); s > bestScore {
			best, bestScore = c, s
		}
	}
	if bestScore < minScore || bestScore <= 0 {
		return platform.Comment{}, false
	}
	return best, true
}
