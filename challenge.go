package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/sho0pi/naturaltime"
)

var challengeDateParser *naturaltime.Parser

func init() {
	initChallengeDateParser()

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "challenge",
		Description: "Manage and track reading challenges",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "create",
				Description: "Create a new challenge in this server",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "name",
						Description: "Challenge name",
						Required:    true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "start",
						Description: "Start date (e.g. 'today', 'next monday', '2026-09-01')",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "add",
				Description: "Add a manga to a challenge by AniList id",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "challenge",
						Description: "Challenge id",
						Required:    true,
					},
					discord.ApplicationCommandOptionInt{
						Name:        "manga",
						Description: "AniList manga id",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a challenge and its manga list",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "challenge",
						Description: "Challenge id",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List this server's challenges",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "progress",
				Description: "Show challenge progress",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{
						Name:        "member",
						Description: "Whose progress to show (defaults to you)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "update",
				Description: "Sync your challenge progress from AniList now",
			},
		},
	}, handleChallenge)
}

func initChallengeDateParser() {
	var err error
	challengeDateParser, err = naturaltime.New()
	if err != nil {
		LogFatal(MsgGenericError, err)
	}
}

func handleChallenge(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	subCmd := data.SubCommandName
	if subCmd == nil || event.GuildID() == nil {
		return
	}

	switch *subCmd {
	case "create":
		handleChallengeCreate(event, data)
	case "add":
		handleChallengeAdd(event, data)
	case "remove":
		handleChallengeRemove(event, data)
	case "list":
		handleChallengeList(event)
	case "progress":
		handleChallengeProgress(event, data)
	case "update":
		handleChallengeUpdate(event)
	}
}

// challengeRespond sends an ephemeral response message
func challengeRespond(event *events.ApplicationCommandInteractionCreate, content string) {
	err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(
			discord.NewContainer(
				discord.NewTextDisplay(content),
			),
		).
		SetEphemeral(true).
		Build())
	if err != nil {
		LogChallenge(MsgGenericError, err)
	}
}

func memberCanManage(event *events.ApplicationCommandInteractionCreate) bool {
	member := event.Member()
	return member != nil && member.Permissions.Has(discord.PermissionManageGuild)
}

// parseChallengeStartDate accepts both natural language and plain dates.
func parseChallengeStartDate(input string) (time.Time, error) {
	if input == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	if t, err := time.Parse(challengeDateLayout, input); err == nil {
		return t, nil
	}
	result, err := challengeDateParser.ParseDate(input, time.Now().UTC())
	if err == nil && result != nil {
		return (*result).Truncate(24 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("could not parse date: %s", input)
}

func handleChallengeCreate(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if !memberCanManage(event) {
		return
	}

	name := data.String("name")
	startStr, _ := data.OptString("start")

	startDate, err := parseChallengeStartDate(startStr)
	if err != nil {
		challengeRespond(event, ErrChallengeDateParse)
		return
	}

	id, err := CreateGuildChallenge(AppContext, int64(*event.GuildID()), name, startDate)
	if err != nil {
		LogChallenge(MsgGenericError, err)
		challengeRespond(event, ErrChallengeCreateFailed)
		return
	}

	challengeRespond(event, fmt.Sprintf(MsgChallengeCreateSuccess, name, id, startDate.Format(challengeDateLayout)))
}

func handleChallengeAdd(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if !memberCanManage(event) {
		return
	}

	guildID := int64(*event.GuildID())
	challengeID := int64(data.Int("challenge"))
	mangaID := int64(data.Int("manga"))

	challenge, err := GetGuildChallenge(AppContext, guildID, challengeID)
	if err != nil {
		challengeRespond(event, ErrChallengeAddFailed)
		return
	}
	if challenge == nil {
		challengeRespond(event, ErrChallengeNotFound)
		return
	}

	manga, err := FetchManga(AppContext, mangaID)
	if err != nil || manga == nil {
		LogChallenge(MsgAniListFetchFailed, fmt.Sprintf("manga %d", mangaID), err)
		challengeRespond(event, ErrChallengeAddFailed)
		return
	}

	err = AddChallengeManga(AppContext, &ChallengeManga{
		GuildID:       guildID,
		ChallengeID:   challengeID,
		MangaID:       manga.ID,
		Title:         manga.Title,
		TotalChapters: manga.Chapters,
		Medium:        mediumFromOrigin(manga.CountryOfOrigin),
	})
	if err != nil {
		challengeRespond(event, ErrChallengeAddFailed)
		return
	}

	challengeRespond(event, fmt.Sprintf(MsgChallengeAddSuccess, manga.Title, manga.Chapters, challengeID))
}

func handleChallengeRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if !memberCanManage(event) {
		return
	}

	guildID := int64(*event.GuildID())
	challengeID := int64(data.Int("challenge"))

	removed, err := DeleteGuildChallenge(AppContext, guildID, challengeID)
	if err != nil {
		challengeRespond(event, ErrChallengeNotFound)
		return
	}
	if !removed {
		challengeRespond(event, ErrChallengeNotFound)
		return
	}
	challengeRespond(event, fmt.Sprintf(MsgChallengeRemoveSuccess, challengeID))
}

func handleChallengeList(event *events.ApplicationCommandInteractionCreate) {
	challenges, err := GetGuildChallenges(AppContext, int64(*event.GuildID()))
	if err != nil {
		challengeRespond(event, ErrChallengeCreateFailed)
		return
	}
	if len(challenges) == 0 {
		challengeRespond(event, MsgChallengeNoneExist)
		return
	}

	var sb strings.Builder
	sb.WriteString("## Challenges\n")
	for _, c := range challenges {
		manga, _ := GetChallengeManga(AppContext, c.GuildID, c.ID)
		sb.WriteString(fmt.Sprintf("`%d` **%s** — %s, %d titles, starts %s\n",
			c.ID, c.Name, c.Difficulty, len(manga), c.StartDate.Format(challengeDateLayout)))
	}
	challengeRespond(event, sb.String())
}

func handleChallengeProgress(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := int64(*event.GuildID())
	targetID := int64(event.User().ID)
	targetName := event.User().Username
	if member, ok := data.OptMember("member"); ok {
		targetID = int64(member.User.ID)
		targetName = member.User.Username
	}

	user, err := GetUser(AppContext, targetID, guildID)
	if err != nil {
		challengeRespond(event, ErrProgressFetchFailed)
		return
	}
	if user == nil {
		challengeRespond(event, ErrProgressNotLinked)
		return
	}

	progress, err := GetAllMangaProgress(AppContext, targetID, guildID)
	if err != nil {
		challengeRespond(event, ErrProgressFetchFailed)
		return
	}
	if len(progress) == 0 {
		challengeRespond(event, MsgProgressNoneFound)
		return
	}

	var total float64
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Challenge progress — %s\n", targetName))
	for _, p := range progress {
		sb.WriteString(fmt.Sprintf("**%s** — %s, ch %d, %.1f pts\n", p.Title, p.Status, p.ChaptersRead, p.Points))
		total += p.Points
	}

	for _, line := range completionBonusLines(guildID, progress, &total) {
		sb.WriteString(line)
	}

	sb.WriteString(fmt.Sprintf("\nTotal: **%.1f** points", total))
	challengeRespond(event, sb.String())
}

// completionBonusLines awards the completion bonus for every challenge whose
// titles the member has all finished, adding it to the running total.
func completionBonusLines(guildID int64, progress []*MangaProgress, total *float64) []string {
	challenges, err := GetGuildChallenges(AppContext, guildID)
	if err != nil {
		return nil
	}

	byManga := make(map[int64]*MangaProgress, len(progress))
	for _, p := range progress {
		byManga[p.MangaID] = p
	}

	var lines []string
	for _, c := range challenges {
		manga, err := GetChallengeManga(AppContext, c.GuildID, c.ID)
		if err != nil || len(manga) == 0 {
			continue
		}

		var earned float64
		finished := true
		for _, m := range manga {
			p, ok := byManga[m.MangaID]
			if !ok || !p.Status.finishedEquivalent() {
				finished = false
				break
			}
			earned += p.Points
		}
		if !finished {
			continue
		}

		bonus := CompletionBonus(earned)
		*total += bonus
		lines = append(lines, fmt.Sprintf("✦ **%s** complete — +%.1f bonus\n", c.Name, bonus))
	}
	return lines
}

func handleChallengeUpdate(event *events.ApplicationCommandInteractionCreate) {
	guildID := int64(*event.GuildID())
	discordID := int64(event.User().ID)

	user, err := GetUser(AppContext, discordID, guildID)
	if err != nil || user == nil || user.AnilistID == 0 {
		challengeRespond(event, ErrProgressNotLinked)
		return
	}

	// Syncing hits AniList once per title; defer so the token stays valid.
	if err := event.DeferCreateMessage(true); err != nil {
		LogChallenge(MsgGenericError, err)
		return
	}

	synced, failed, err := SyncUserChallenges(AppContext, discordID, guildID)

	var content string
	if err != nil {
		content = ErrChallengeUpdateFailed
	} else {
		challenges, _ := GetGuildChallenges(AppContext, guildID)
		content = fmt.Sprintf(MsgChallengeUpdateDone, synced, len(challenges), failed)
	}

	_, err = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true).
			AddComponents(discord.NewContainer(discord.NewTextDisplay(content))).
			Build())
	if err != nil {
		LogChallenge(MsgGenericError, err)
	}
}
