package main

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

type GuildChallenge struct {
	ID         int64
	GuildID    int64
	Name       string
	StartDate  time.Time
	Difficulty string
	CreatedAt  time.Time
}

type ChallengeManga struct {
	ID            int64
	GuildID       int64
	ChallengeID   int64
	MangaID       int64
	Title         string
	TotalChapters int64
	Medium        string
}

const challengeDateLayout = "2006-01-02"

// --- Difficulty & Points ---

// mediumMultipliers weight per-title difficulty by origin. Manhua chapters
// tend to be shorter than manga chapters, manhwa sit in between.
var mediumMultipliers = map[string]float64{
	"manga":  1.1,
	"manhwa": 1.0,
	"manhua": 0.9,
}

func mediumMultiplier(medium string) float64 {
	if m, ok := mediumMultipliers[strings.ToLower(medium)]; ok {
		return m
	}
	return 1.0
}

// chapterBand maps a title's length onto the 1.0-5.0 difficulty scale.
func chapterBand(chapters int64) float64 {
	switch {
	case chapters <= 25:
		return 1.0
	case chapters <= 50:
		return 1.5
	case chapters <= 100:
		return 2.0
	case chapters <= 200:
		return 2.5
	case chapters <= 300:
		return 3.0
	case chapters <= 500:
		return 3.5
	case chapters <= 1000:
		return 4.0
	case chapters <= 1500:
		return 4.3
	case chapters <= 2000:
		return 4.6
	default:
		return 5.0
	}
}

// chapterBasePoints is the point value of fully reading a title in a band.
func chapterBasePoints(chapters int64) float64 {
	switch {
	case chapters < 25:
		return 10
	case chapters <= 100:
		return 20
	case chapters <= 250:
		return 35
	case chapters <= 500:
		return 50
	case chapters <= 1000:
		return 75
	case chapters <= 2000:
		return 100
	default:
		return 120
	}
}

// MangaDifficultyScore rates one title on the 1-5 scale, weighted by medium
// and capped so long manga never leave the scale.
func MangaDifficultyScore(chapters int64, medium string) float64 {
	score := chapterBand(chapters) * mediumMultiplier(medium)
	if score > 5.0 {
		return 5.0
	}
	return score
}

// ChallengeDifficulty labels a challenge from the average of its per-title
// difficulty scores.
func ChallengeDifficulty(scores []float64) string {
	if len(scores) == 0 {
		return "Medium"
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))
	switch {
	case avg <= 1.5:
		return "Easy"
	case avg <= 2.5:
		return "Medium"
	case avg <= 3.5:
		return "Hard"
	case avg <= 4.5:
		return "Very Hard"
	default:
		return "Extreme"
	}
}

// statusMultiplier scales a title's base points by how the member engaged
// with it. Rereads earn extra per additional pass.
func statusMultiplier(status Status, repeat int64) float64 {
	switch status {
	case StatusCompleted, StatusCaughtUp:
		return 1.2
	case StatusReread:
		extra := repeat - 1
		if extra < 0 {
			extra = 0
		}
		return 1.5 + float64(extra)*0.3
	case StatusInProgress:
		return 0.8
	case StatusPaused:
		return 0.4
	case StatusDropped:
		return 0.3
	case StatusSkipped:
		return 0.6
	default:
		return 0
	}
}

// CalculatePoints scores one title for one member. In Progress titles are
// prorated by how far into the title the member is; the result is rounded to
// whole points and never negative.
func CalculatePoints(status Status, repeat, progress, totalChapters int64, medium string) float64 {
	base := chapterBasePoints(totalChapters)
	mult := statusMultiplier(status, repeat)
	if mult == 0 {
		return 0
	}

	difficulty := MangaDifficultyScore(totalChapters, medium)
	points := base * mult * (difficulty / 3.0)

	if status == StatusInProgress && totalChapters > 0 {
		ratio := float64(progress) / float64(totalChapters)
		if ratio > 1 {
			ratio = 1
		}
		points *= ratio
	}

	points = math.Round(points)
	if points < 0 {
		return 0
	}
	return points
}

// CompletionBonus rewards finishing every title of a challenge: 10% of the
// earned points, capped at 150.
func CompletionBonus(totalPoints float64) float64 {
	bonus := totalPoints * 0.10
	if bonus > 150 {
		bonus = 150
	}
	return bonus
}

// --- Guild challenge storage ---

func CreateGuildChallenge(ctx context.Context, guildID int64, name string, startDate time.Time) (int64, error) {
	if guildID <= 0 || strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: guild_id and name are required", ErrValidation)
	}
	res, err := dbExec(ctx, "challenges.create", `
		INSERT INTO guild_challenges (guild_id, name, start_date, difficulty)
		VALUES (?, ?, ?, 'Medium')
	`, guildID, name, startDate.Format(challengeDateLayout))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	LogChallenge(MsgChallengeCreated, name, id, guildID)
	return id, nil
}

func GetGuildChallenge(ctx context.Context, guildID, challengeID int64) (*GuildChallenge, error) {
	c := &GuildChallenge{}
	var startDate, difficulty sql.NullString
	err := dbQueryRow(ctx, "challenges.get", `
		SELECT id, guild_id, name, start_date, difficulty, created_at
		FROM guild_challenges WHERE guild_id = ? AND id = ?
	`, []interface{}{guildID, challengeID},
		&c.ID, &c.GuildID, &c.Name, &startDate, &difficulty, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Difficulty = difficulty.String
	if startDate.Valid {
		c.StartDate, _ = time.Parse(challengeDateLayout, startDate.String)
	}
	return c, nil
}

func GetGuildChallenges(ctx context.Context, guildID int64) ([]*GuildChallenge, error) {
	var challenges []*GuildChallenge
	err := dbQuery(ctx, "challenges.get_guild", `
		SELECT id, guild_id, name, start_date, difficulty, created_at
		FROM guild_challenges WHERE guild_id = ? ORDER BY id ASC
	`, []interface{}{guildID}, func(rows *sql.Rows) error {
		c := &GuildChallenge{}
		var startDate, difficulty sql.NullString
		if err := rows.Scan(&c.ID, &c.GuildID, &c.Name, &startDate, &difficulty, &c.CreatedAt); err != nil {
			return err
		}
		c.Difficulty = difficulty.String
		if startDate.Valid {
			c.StartDate, _ = time.Parse(challengeDateLayout, startDate.String)
		}
		challenges = append(challenges, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return challenges, nil
}

// DeleteGuildChallenge removes a challenge with its manga list, rules and
// checkpoints in one transaction.
func DeleteGuildChallenge(ctx context.Context, guildID, challengeID int64) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	tx, err := DB.BeginTx(opCtx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(opCtx,
		"DELETE FROM guild_challenge_manga WHERE guild_id = ? AND challenge_id = ?", guildID, challengeID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(opCtx,
		"DELETE FROM challenge_rules WHERE guild_id = ? AND challenge_id = ?", guildID, challengeID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(opCtx,
		"DELETE FROM challenge_checkpoints WHERE guild_id = ? AND challenge_id = ?", guildID, challengeID); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(opCtx,
		"DELETE FROM guild_challenges WHERE guild_id = ? AND id = ?", guildID, challengeID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	LogChallenge(MsgChallengeRemoved, challengeID, guildID)
	return true, nil
}

// AddChallengeManga adds a title and refreshes the challenge's cached
// difficulty label.
func AddChallengeManga(ctx context.Context, m *ChallengeManga) error {
	if m.GuildID <= 0 || m.ChallengeID <= 0 || m.MangaID <= 0 {
		return fmt.Errorf("%w: guild_id, challenge_id and manga_id must be positive", ErrValidation)
	}
	if m.Medium == "" {
		m.Medium = "manga"
	}

	_, err := dbExec(ctx, "challenges.add_manga", `
		INSERT INTO guild_challenge_manga (guild_id, challenge_id, manga_id, title, total_chapters, medium)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, challenge_id, manga_id) DO UPDATE SET
			title = excluded.title,
			total_chapters = excluded.total_chapters,
			medium = excluded.medium
	`, m.GuildID, m.ChallengeID, m.MangaID, m.Title, m.TotalChapters, strings.ToLower(m.Medium))
	if err != nil {
		return err
	}
	LogChallenge(MsgChallengeMangaAdded, m.MangaID, m.Title, m.ChallengeID, m.GuildID)
	return refreshChallengeDifficulty(ctx, m.GuildID, m.ChallengeID)
}

func GetChallengeManga(ctx context.Context, guildID, challengeID int64) ([]*ChallengeManga, error) {
	var manga []*ChallengeManga
	err := dbQuery(ctx, "challenges.get_manga", `
		SELECT id, guild_id, challenge_id, manga_id, title, total_chapters, medium
		FROM guild_challenge_manga WHERE guild_id = ? AND challenge_id = ? ORDER BY id ASC
	`, []interface{}{guildID, challengeID}, func(rows *sql.Rows) error {
		m := &ChallengeManga{}
		var title, medium sql.NullString
		if err := rows.Scan(&m.ID, &m.GuildID, &m.ChallengeID, &m.MangaID, &title, &m.TotalChapters, &medium); err != nil {
			return err
		}
		m.Title = title.String
		m.Medium = medium.String
		manga = append(manga, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manga, nil
}

func refreshChallengeDifficulty(ctx context.Context, guildID, challengeID int64) error {
	manga, err := GetChallengeManga(ctx, guildID, challengeID)
	if err != nil {
		return err
	}
	scores := make([]float64, 0, len(manga))
	for _, m := range manga {
		scores = append(scores, MangaDifficultyScore(m.TotalChapters, m.Medium))
	}
	_, err = dbExec(ctx, "challenges.set_difficulty",
		"UPDATE guild_challenges SET difficulty = ? WHERE guild_id = ? AND id = ?",
		ChallengeDifficulty(scores), guildID, challengeID)
	return err
}

// --- Legacy global challenges (read-only, pre-multi-guild data) ---

func GetGlobalChallenges(ctx context.Context) ([]*GuildChallenge, error) {
	var challenges []*GuildChallenge
	err := dbQuery(ctx, "challenges.get_global", `
		SELECT challenge_id, name, start_date, difficulty, created_at
		FROM global_challenges ORDER BY challenge_id ASC
	`, nil, func(rows *sql.Rows) error {
		c := &GuildChallenge{GuildID: LegacyGuildID()}
		var startDate, difficulty sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &startDate, &difficulty, &c.CreatedAt); err != nil {
			return err
		}
		c.Difficulty = difficulty.String
		if startDate.Valid {
			c.StartDate, _ = time.Parse(challengeDateLayout, startDate.String)
		}
		challenges = append(challenges, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return challenges, nil
}

func GetGlobalChallengeManga(ctx context.Context, challengeID int64) ([]*ChallengeManga, error) {
	var manga []*ChallengeManga
	err := dbQuery(ctx, "challenges.get_global_manga", `
		SELECT id, challenge_id, manga_id, title, total_chapters, medium
		FROM challenge_manga WHERE challenge_id = ? ORDER BY id ASC
	`, []interface{}{challengeID}, func(rows *sql.Rows) error {
		m := &ChallengeManga{GuildID: LegacyGuildID()}
		var title, medium sql.NullString
		if err := rows.Scan(&m.ID, &m.ChallengeID, &m.MangaID, &title, &m.TotalChapters, &medium); err != nil {
			return err
		}
		m.Title = title.String
		m.Medium = medium.String
		manga = append(manga, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manga, nil
}
