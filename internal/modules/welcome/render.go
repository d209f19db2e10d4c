package welcome

import (
	"strings"
	"time"

	"verifybot/internal/modules/verification"
	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultTitle       = "Welcome!"
	defaultDescription = "Hi {user}, welcome to the server! To get verified, post a screenshot in {verification_channel}. A moderator will review it shortly."
	helpLabel          = "Need help?"
)

// Expand replaces the {user} and {verification_channel} placeholders.
func Expand(template, userID, channelID string) string {
	return strings.NewReplacer(
		"{user}", platform.UserMention(userID),
		"{verification_channel}", platform.ChannelMention(channelID),
	).Replace(template)
}

// Render builds the welcome message for userID according to the guild's
// template and mode.
func Render(cfg storage.GuildConfig, userID string, color int) (*discordgo.MessageSend, error) {
	helpID, err := verification.Encode(verification.HelpToken())
	if err != nil {
		return nil, err
	}

	title := cfg.WelcomeTitle
	if title == "" {
		title = defaultTitle
	}
	description := cfg.WelcomeDescription
	if description == "" {
		description = defaultDescription
	}
	title = Expand(title, userID, cfg.VerificationChannelID)
	description = Expand(description, userID, cfg.VerificationChannelID)

	send := &discordgo.MessageSend{
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: helpLabel, Style: discordgo.SecondaryButton, CustomID: helpID},
			}},
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
			Users: []string{userID},
		},
	}

	switch cfg.EffectiveWelcomeMode() {
	case storage.WelcomeText:
		send.Content = "**" + title + "**\n" + description
	default:
		send.Content = platform.UserMention(userID)
		send.Embeds = []*discordgo.MessageEmbed{{
			Title:       title,
			Description: description,
			Color:       color,
			Timestamp:   time.Now().Format(time.RFC3339),
		}}
	}
	return send, nil
}
