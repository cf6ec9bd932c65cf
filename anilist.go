package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const aniListEndpoint = "https://graphql.anilist.co"

// AniList media list statuses as returned by the API.
const (
	AniListStatusCurrent   = "CURRENT"
	AniListStatusCompleted = "COMPLETED"
	AniListStatusPaused    = "PAUSED"
	AniListStatusDropped   = "DROPPED"
	AniListStatusPlanning  = "PLANNING"
	AniListStatusRepeating = "REPEATING"
)

// AniList allows 90 requests per minute; stay comfortably under it so batch
// syncs never trip the limit.
var aniListLimiter = rate.NewLimiter(rate.Every(800*time.Millisecond), 1)

type MediaListEntry struct {
	Progress  int64
	Status    string
	Repeat    int64
	StartedAt time.Time
}

type AniListUserStats struct {
	AnilistID       int64
	Username        string
	MangaCount      int64
	ChaptersRead    int64
	MangaMean       float64
	AnimeCount      int64
	EpisodesWatched int64
	AnimeMean       float64
}

type AniListManga struct {
	ID              int64
	Title           string
	Chapters        int64
	CountryOfOrigin string
	Format          string
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type fuzzyDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (d fuzzyDate) Time() time.Time {
	if d.Year == 0 {
		return time.Time{}
	}
	month := d.Month
	if month == 0 {
		month = 1
	}
	day := d.Day
	if day == 0 {
		day = 1
	}
	return time.Date(d.Year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// doGraphQL posts one query. notFoundOK lets callers treat AniList's 404
// (missing list entry / unknown user) as an empty result instead of an error.
func doGraphQL(ctx context.Context, query string, variables map[string]interface{}, out interface{}, notFoundOK bool) (bool, error) {
	if err := aniListLimiter.Wait(ctx); err != nil {
		return false, err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, aniListEndpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := HttpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFoundOK {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf(MsgAniListStatusError, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

// FetchMediaListEntry returns a user's list entry for one manga. A missing
// entry is not an error: the zero entry with status CURRENT is returned so
// status derivation falls through to Not Started.
func FetchMediaListEntry(ctx context.Context, anilistID, mediaID int64) (*MediaListEntry, error) {
	const query = `
	query ($userId: Int, $mediaId: Int) {
		MediaList(userId: $userId, mediaId: $mediaId, type: MANGA) {
			progress
			status
			repeat
			startedAt { year month day }
		}
	}`

	var result struct {
		Data struct {
			MediaList *struct {
				Progress  int64     `json:"progress"`
				Status    string    `json:"status"`
				Repeat    int64     `json:"repeat"`
				StartedAt fuzzyDate `json:"startedAt"`
			} `json:"MediaList"`
		} `json:"data"`
	}

	found, err := doGraphQL(ctx, query, map[string]interface{}{
		"userId":  anilistID,
		"mediaId": mediaID,
	}, &result, true)
	if err != nil {
		return nil, err
	}
	if !found || result.Data.MediaList == nil {
		return &MediaListEntry{Status: AniListStatusCurrent}, nil
	}

	entry := result.Data.MediaList
	return &MediaListEntry{
		Progress:  entry.Progress,
		Status:    entry.Status,
		Repeat:    entry.Repeat,
		StartedAt: entry.StartedAt.Time(),
	}, nil
}

// FetchUserStats returns a user's aggregate manga/anime statistics, or nil
// when the username does not exist on AniList.
func FetchUserStats(ctx context.Context, username string) (*AniListUserStats, error) {
	const query = `
	query ($name: String) {
		User(name: $name) {
			id
			name
			statistics {
				manga { count chaptersRead meanScore }
				anime { count episodesWatched meanScore }
			}
		}
	}`

	var result struct {
		Data struct {
			User *struct {
				ID         int64  `json:"id"`
				Name       string `json:"name"`
				Statistics struct {
					Manga struct {
						Count        int64   `json:"count"`
						ChaptersRead int64   `json:"chaptersRead"`
						MeanScore    float64 `json:"meanScore"`
					} `json:"manga"`
					Anime struct {
						Count           int64   `json:"count"`
						EpisodesWatched int64   `json:"episodesWatched"`
						MeanScore       float64 `json:"meanScore"`
					} `json:"anime"`
				} `json:"statistics"`
			} `json:"User"`
		} `json:"data"`
	}

	found, err := doGraphQL(ctx, query, map[string]interface{}{"name": username}, &result, true)
	if err != nil {
		return nil, err
	}
	if !found || result.Data.User == nil {
		return nil, nil
	}

	u := result.Data.User
	return &AniListUserStats{
		AnilistID:       u.ID,
		Username:        u.Name,
		MangaCount:      u.Statistics.Manga.Count,
		ChaptersRead:    u.Statistics.Manga.ChaptersRead,
		MangaMean:       u.Statistics.Manga.MeanScore,
		AnimeCount:      u.Statistics.Anime.Count,
		EpisodesWatched: u.Statistics.Anime.EpisodesWatched,
		AnimeMean:       u.Statistics.Anime.MeanScore,
	}, nil
}

// mangaLookupCache holds recent media lookups; chapter counts move slowly
// enough that half a day of staleness is fine. Built by InitCaches.
var mangaLookupCache *TTLCache[int64, *AniListManga]

// FetchManga looks a manga up by AniList id for /challenge add.
func FetchManga(ctx context.Context, mediaID int64) (*AniListManga, error) {
	if m, ok := mangaLookupCache.Get(mediaID); ok {
		return m, nil
	}
	const query = `
	query ($id: Int) {
		Media(id: $id, type: MANGA) {
			id
			title { romaji english }
			chapters
			countryOfOrigin
			format
		}
	}`

	var result struct {
		Data struct {
			Media *struct {
				ID    int64 `json:"id"`
				Title struct {
					Romaji  string `json:"romaji"`
					English string `json:"english"`
				} `json:"title"`
				Chapters        int64  `json:"chapters"`
				CountryOfOrigin string `json:"countryOfOrigin"`
				Format          string `json:"format"`
			} `json:"Media"`
		} `json:"data"`
	}

	found, err := doGraphQL(ctx, query, map[string]interface{}{"id": mediaID}, &result, true)
	if err != nil {
		return nil, err
	}
	if !found || result.Data.Media == nil {
		return nil, nil
	}

	m := result.Data.Media
	title := m.Title.English
	if title == "" {
		title = m.Title.Romaji
	}
	manga := &AniListManga{
		ID:              m.ID,
		Title:           title,
		Chapters:        m.Chapters,
		CountryOfOrigin: m.CountryOfOrigin,
		Format:          m.Format,
	}
	mangaLookupCache.Set(mediaID, manga)
	return manga, nil
}

// mediumFromOrigin maps AniList's country of origin to the difficulty
// weighting medium.
func mediumFromOrigin(country string) string {
	switch country {
	case "KR":
		return "manhwa"
	case "CN", "TW":
		return "manhua"
	default:
		return "manga"
	}
}
