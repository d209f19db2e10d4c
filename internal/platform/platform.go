// Package platform describes the slice of the chat platform the verification
// and welcome modules depend on. The bot package adapts a discordgo session to
// it; tests use platformtest.Fake.
package platform

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a channel, message, member or role is gone.
var ErrNotFound = errors.New("platform: not found")

type Client interface {
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendDirect(ctx context.Context, userID string, msg *discordgo.MessageSend) error

	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	// AddRoles grants every role in one member update.
	AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	BotHighestRolePosition(ctx context.Context, guildID string) (int, error)
	CanView(ctx context.Context, userID, channelID string) (bool, error)

	Respond(ctx context.Context, interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	// EditResponse replaces the content of an earlier (usually deferred)
	// interaction response.
	EditResponse(ctx context.Context, interaction *discordgo.Interaction, content string) error
}

// BestEffort runs a non-critical side effect. A failure is logged and
// never returned.
func BestEffort(logger *zap.Logger, op string, fn func() error, fields ...zap.Field) {
	if err := fn(); err != nil {
		logger.Debug("best-effort operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	}
}

// IsTextChannel reports whether messages can be posted to the channel.
func IsTextChannel(channel *discordgo.Channel) bool {
	if channel == nil {
		return false
	}
	switch channel.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	default:
		return false
	}
}

func HasRole(member *discordgo.Member, roleID string) bool {
	if member == nil || roleID == "" {
		return false
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

func UserMention(userID string) string {
	return "<@" + userID + ">"
}

func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}

func MessageLink(guildID, channelID, messageID string) string {
	return "https://discord.com/channels/" + guildID + "/" + channelID + "/" + messageID
}

// Ephemeral builds a reply visible only to the acting user.
func Ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{},
			},
		},
	}
}

// DeferredEphemeral acknowledges an interaction now and leaves the reply to
// a later EditResponse.
func DeferredEphemeral() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}
}

func EphemeralEmbed(embed *discordgo.MessageEmbed) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	}
}

// InteractionUserID returns the id of whoever triggered the interaction.
func InteractionUserID(interaction *discordgo.Interaction) string {
	if interaction == nil {
		return ""
	}
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}
