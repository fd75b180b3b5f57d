package textcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dreamGarden/internal/database"
)

func TestAnalyzeAggressive(t *testing.T) {
	res := Analyze("민준이가 맨날 말썽이에요!!")

	assert.Equal(t, database.FlagAggressive, res.Flag)
	assert.Equal(t, "민준이가 자주 어려움이에요.", res.Suggestion)
	assert.Contains(t, res.Matches, "맨날")
	assert.Contains(t, res.Matches, "말썽")
}

func TestAnalyzeLongestPhraseFirst(t *testing.T) {
	res := Analyze("항상 말썽 부려요")

	assert.Equal(t, database.FlagAggressive, res.Flag)
	assert.Equal(t, "어려움이 있음 부려요", res.Suggestion)
}

func TestAnalyzeVague(t *testing.T) {
	res := Analyze("그냥 좀 이상했어요")

	assert.Equal(t, database.FlagVague, res.Flag)
	assert.Equal(t, "이상했어요", res.Suggestion)
	assert.ElementsMatch(t, []string{"그냥", "좀", "이상했"}, res.Matches)
}

func TestAnalyzeNeutral(t *testing.T) {
	res := Analyze("  오늘 혼자 양치를 했어요.  ")

	assert.Equal(t, database.FlagNeutral, res.Flag)
	assert.Equal(t, "오늘 혼자 양치를 했어요.", res.Suggestion)
	assert.Empty(t, res.Matches)
}

func TestAnalyzeWholeWordOnly(t *testing.T) {
	res := Analyze("좀비 그림을 그렸어요")

	assert.Equal(t, database.FlagNeutral, res.Flag)
}

func TestAnalyzeEmptyIsVague(t *testing.T) {
	assert.Equal(t, database.FlagVague, Analyze("   ").Flag)
}
