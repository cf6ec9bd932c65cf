package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChapterBands(t *testing.T) {
	cases := []struct {
		chapters int64
		band     float64
		base     float64
	}{
		{0, 1.0, 10},
		{24, 1.0, 10},
		{25, 1.0, 20},
		{26, 1.5, 20},
		{50, 1.5, 20},
		{51, 2.0, 20},
		{100, 2.0, 20},
		{101, 2.5, 35},
		{200, 2.5, 35},
		{250, 3.0, 35},
		{251, 3.0, 50},
		{300, 3.0, 50},
		{500, 3.5, 50},
		{501, 4.0, 75},
		{1000, 4.0, 75},
		{1001, 4.3, 100},
		{1500, 4.3, 100},
		{2000, 4.6, 100},
		{2001, 5.0, 120},
	}
	for _, c := range cases {
		assert.Equal(t, c.band, chapterBand(c.chapters), "band for %d", c.chapters)
		assert.Equal(t, c.base, chapterBasePoints(c.chapters), "base for %d", c.chapters)
	}
}

func TestMangaDifficultyScoreCap(t *testing.T) {
	// 2.5 band weighted by the manga multiplier.
	assert.InDelta(t, 2.75, MangaDifficultyScore(150, "manga"), 1e-9)
	// The manga multiplier would push the top band past 5.0; the cap holds.
	assert.InDelta(t, 5.0, MangaDifficultyScore(2001, "manga"), 1e-9)
}

func TestMediumMultiplier(t *testing.T) {
	assert.Equal(t, 1.1, mediumMultiplier("manga"))
	assert.Equal(t, 1.1, mediumMultiplier("MANGA"))
	assert.Equal(t, 1.0, mediumMultiplier("manhwa"))
	assert.Equal(t, 0.9, mediumMultiplier("manhua"))
	assert.Equal(t, 1.0, mediumMultiplier("light novel"))
}

func TestChallengeDifficultyLabels(t *testing.T) {
	assert.Equal(t, "Medium", ChallengeDifficulty(nil))
	assert.Equal(t, "Easy", ChallengeDifficulty([]float64{1, 1.5}))
	assert.Equal(t, "Easy", ChallengeDifficulty([]float64{1.5}))
	assert.Equal(t, "Medium", ChallengeDifficulty([]float64{2, 2}))
	assert.Equal(t, "Medium", ChallengeDifficulty([]float64{2.5}))
	assert.Equal(t, "Hard", ChallengeDifficulty([]float64{3.5}))
	assert.Equal(t, "Very Hard", ChallengeDifficulty([]float64{4.5}))
	assert.Equal(t, "Extreme", ChallengeDifficulty([]float64{5, 5}))
}

func TestCalculatePoints(t *testing.T) {
	// 150 chapters of manga: base 35, difficulty 2.5*1.1 = 2.75.
	// 35 * 1.2 * (2.75/3) = 38.5, rounded to 39.
	completed := CalculatePoints(StatusCompleted, 0, 150, 150, "manga")
	assert.InDelta(t, 39, completed, 1e-9)

	// In Progress is prorated by read share, then rounded.
	half := CalculatePoints(StatusInProgress, 0, 75, 150, "manga")
	full := CalculatePoints(StatusInProgress, 0, 150, 150, "manga")
	assert.InDelta(t, 26, full, 1e-9)
	assert.InDelta(t, 13, half, 1e-9)

	// Proration never exceeds 1 even with stale progress counts.
	over := CalculatePoints(StatusInProgress, 0, 300, 150, "manga")
	assert.InDelta(t, full, over, 1e-9)

	// Each extra reread pass adds 0.3 to the multiplier.
	once := CalculatePoints(StatusReread, 1, 150, 150, "manga")
	thrice := CalculatePoints(StatusReread, 3, 150, 150, "manga")
	assert.InDelta(t, 48, once, 1e-9)
	assert.InDelta(t, 67, thrice, 1e-9)

	assert.Zero(t, CalculatePoints(StatusNotStarted, 0, 0, 150, "manga"))
}

func TestCompletionBonus(t *testing.T) {
	assert.InDelta(t, 10.0, CompletionBonus(100), 1e-9)
	assert.InDelta(t, 150.0, CompletionBonus(1500), 1e-9)
	assert.InDelta(t, 150.0, CompletionBonus(99999), 1e-9)
}

func TestGuildChallengeCRUD(t *testing.T) {
	ctx := setupTestDB(t)
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	_, err := CreateGuildChallenge(ctx, 0, "bad", start)
	require.ErrorIs(t, err, ErrValidation)
	_, err = CreateGuildChallenge(ctx, 20, "  ", start)
	require.ErrorIs(t, err, ErrValidation)

	id, err := CreateGuildChallenge(ctx, 20, "Autumn Marathon", start)
	require.NoError(t, err)
	require.Positive(t, id)

	c, err := GetGuildChallenge(ctx, 20, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Autumn Marathon", c.Name)
	assert.Equal(t, "Medium", c.Difficulty)
	assert.True(t, c.StartDate.Equal(start))

	// Scoped lookups miss across guilds.
	other, err := GetGuildChallenge(ctx, 99, id)
	require.NoError(t, err)
	require.Nil(t, other)

	all, err := GetGuildChallenges(ctx, 20)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAddChallengeMangaRefreshesDifficulty(t *testing.T) {
	ctx := setupTestDB(t)
	id, err := CreateGuildChallenge(ctx, 20, "Long Haul", time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, AddChallengeManga(ctx, &ChallengeManga{
		GuildID: 20, ChallengeID: id, MangaID: 30002, Title: "One Piece", TotalChapters: 1100, Medium: "manga",
	}))
	require.NoError(t, AddChallengeManga(ctx, &ChallengeManga{
		GuildID: 20, ChallengeID: id, MangaID: 85143, Title: "Solo Leveling", TotalChapters: 200, Medium: "manhwa",
	}))

	c, err := GetGuildChallenge(ctx, 20, id)
	require.NoError(t, err)
	// Scores 4.73 and 2.5 average to 3.615.
	assert.Equal(t, "Very Hard", c.Difficulty)

	manga, err := GetChallengeManga(ctx, 20, id)
	require.NoError(t, err)
	require.Len(t, manga, 2)

	// Re-adding the same title updates in place.
	require.NoError(t, AddChallengeManga(ctx, &ChallengeManga{
		GuildID: 20, ChallengeID: id, MangaID: 30002, Title: "One Piece", TotalChapters: 1105, Medium: "manga",
	}))
	manga, err = GetChallengeManga(ctx, 20, id)
	require.NoError(t, err)
	require.Len(t, manga, 2)
}

func TestDeleteGuildChallengeCascades(t *testing.T) {
	ctx := setupTestDB(t)
	id, err := CreateGuildChallenge(ctx, 20, "Doomed", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, AddChallengeManga(ctx, &ChallengeManga{
		GuildID: 20, ChallengeID: id, MangaID: 30, Title: "Berserk", TotalChapters: 380, Medium: "manga",
	}))

	removed, err := DeleteGuildChallenge(ctx, 20, id)
	require.NoError(t, err)
	require.True(t, removed)

	c, err := GetGuildChallenge(ctx, 20, id)
	require.NoError(t, err)
	require.Nil(t, c)

	manga, err := GetChallengeManga(ctx, 20, id)
	require.NoError(t, err)
	require.Empty(t, manga)

	removed, err = DeleteGuildChallenge(ctx, 20, id)
	require.NoError(t, err)
	require.False(t, removed)
}
