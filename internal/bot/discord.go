package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"verifybot/internal/platform"

	"github.com/bwmarrin/discordgo"
)

// sessionClient adapts a discordgo session to platform.Client. Reads go to
// the gateway state cache first and fall back to REST.
type sessionClient struct {
	session *discordgo.Session
}

func newSessionClient(session *discordgo.Session) *sessionClient {
	return &sessionClient{session: session}
}

func (c *sessionClient) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if channel, err := c.session.State.Channel(channelID); err == nil && channel != nil {
		return channel, nil
	}
	channel, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	return channel, mapError(err)
}

func (c *sessionClient) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return sent, mapError(err)
}

func (c *sessionClient) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error {
	_, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapError(err)
}

func (c *sessionClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *sessionClient) SendDirect(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	channel, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", mapError(err))
	}
	_, err = c.session.ChannelMessageSendComplex(channel.ID, msg, discordgo.WithContext(ctx))
	return mapError(err)
}

func (c *sessionClient) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if member, err := c.session.State.Member(guildID, userID); err == nil && member != nil {
		return member, nil
	}
	member, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	return member, mapError(err)
}

func (c *sessionClient) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if guild, err := c.session.State.Guild(guildID); err == nil && guild != nil {
		return guild, nil
	}
	guild, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
	return guild, mapError(err)
}

func (c *sessionClient) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	return roles, mapError(err)
}

// AddRoles sends the union of the member's roles and roleIDs in a single
// member edit, so either every role is granted or none is.
func (c *sessionClient) AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	member, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	roles := append([]string(nil), member.Roles...)
	for _, id := range roleIDs {
		if !platform.HasRole(member, id) {
			roles = append(roles, id)
		}
	}
	_, err = c.session.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Roles: &roles},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return mapError(err)
}

func (c *sessionClient) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapError(c.session.GuildMemberRoleAdd(guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *sessionClient) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapError(c.session.GuildMemberRoleRemove(guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *sessionClient) BotHighestRolePosition(ctx context.Context, guildID string) (int, error) {
	if c.session.State == nil || c.session.State.User == nil {
		return 0, errors.New("bot user unknown before ready")
	}
	member, err := c.Member(ctx, guildID, c.session.State.User.ID)
	if err != nil {
		return 0, err
	}
	roles, err := c.Roles(ctx, guildID)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, role := range roles {
		if platform.HasRole(member, role.ID) && role.Position > highest {
			highest = role.Position
		}
	}
	return highest, nil
}

func (c *sessionClient) CanView(ctx context.Context, userID, channelID string) (bool, error) {
	perms, err := c.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, mapError(err)
	}
	return perms&discordgo.PermissionViewChannel != 0, nil
}

func (c *sessionClient) Respond(ctx context.Context, interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return mapError(c.session.InteractionRespond(interaction, resp, discordgo.WithContext(ctx)))
}

func (c *sessionClient) EditResponse(ctx context.Context, interaction *discordgo.Interaction, content string) error {
	_, err := c.session.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{
		Content:         &content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

// mapError turns REST 404s into platform.ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	return err
}

var _ platform.Client = (*sessionClient)(nil)
