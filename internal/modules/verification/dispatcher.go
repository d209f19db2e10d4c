package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"verifybot/internal/modules/audit"
	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	msgNotAllowed      = "You are not allowed to do that."
	msgInvalidButton   = "This button is no longer valid."
	msgAlreadyHandled  = "This verification has already been handled."
	msgStaffNotSet     = "The staff channel is not configured yet. Please ask an administrator."
	msgHelpSent        = "A staff member has been notified and will help you shortly."
	msgRoleSetStale    = "That role option no longer exists. Ask the member to resubmit so a fresh prompt is posted."
	msgRolesDeleted    = "None of the roles for that option exist anymore."
	msgMemberGone      = "That member is no longer in the server."
	msgAssignFailed    = "Failed to assign roles: %v"
	msgHierarchyHeader = "I can't assign these roles:"
)

// HandleButton processes a click on a verification or help button. It
// reports whether the custom id belonged to this module.
func (m *Module) HandleButton(ctx context.Context, interaction *discordgo.Interaction) bool {
	if interaction == nil || interaction.Type != discordgo.InteractionMessageComponent {
		return false
	}
	customID := interaction.MessageComponentData().CustomID
	if !IsToken(customID) {
		return false
	}
	if interaction.GuildID == "" {
		return true
	}
	cfg, ok := m.store.Get(interaction.GuildID)
	if !ok {
		return true
	}

	token, err := Decode(customID)
	if err != nil {
		m.logger.Debug("undecodable button", zap.String("custom_id", customID), zap.Error(err))
		m.respond(ctx, interaction, platform.Ephemeral(msgInvalidButton))
		return true
	}

	if token.Action == ActionHelp {
		m.handleHelp(ctx, interaction, cfg)
		return true
	}

	actorID := platform.InteractionUserID(interaction)
	if !authorized(cfg, interaction.Member) {
		m.metrics.Rejection("unauthorized")
		m.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, actorID, "verification_rejected", "action="+string(token.Action)+" target="+token.UserID)
		m.respond(ctx, interaction, platform.Ephemeral(msgNotAllowed))
		return true
	}

	promptID := promptKey(interaction)
	ran := m.guard.run(promptID, interaction.ID, func() bool {
		// Acknowledge before the role and message calls so a slow REST
		// bucket cannot outlast the interaction deadline.
		if err := m.client.Respond(ctx, interaction, platform.DeferredEphemeral()); err != nil {
			m.logger.Warn("acknowledge click failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
			return false
		}
		if token.Action == ActionDeny {
			return m.deny(ctx, interaction, cfg, token)
		}
		return m.assign(ctx, interaction, cfg, token)
	})
	if !ran {
		m.metrics.Rejection("already_handled")
		m.respond(ctx, interaction, platform.Ephemeral(msgAlreadyHandled))
	}
	return true
}

// authorized applies only when a moderator role is configured: the actor
// needs that role or the manage-roles permission.
func authorized(cfg storage.GuildConfig, member *discordgo.Member) bool {
	if cfg.ModRoleID == "" {
		return true
	}
	if member == nil {
		return false
	}
	if platform.HasRole(member, cfg.ModRoleID) {
		return true
	}
	return member.Permissions&(discordgo.PermissionManageRoles|discordgo.PermissionAdministrator) != 0
}

func promptKey(interaction *discordgo.Interaction) string {
	if interaction.Message != nil && interaction.Message.ID != "" {
		return interaction.Message.ID
	}
	return interaction.ID
}

func (m *Module) handleHelp(ctx context.Context, interaction *discordgo.Interaction, cfg storage.GuildConfig) {
	userID := platform.InteractionUserID(interaction)
	if cfg.StaffChannelID == "" {
		m.respond(ctx, interaction, platform.Ephemeral(msgStaffNotSet))
		return
	}

	mentions := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	content := ""
	if cfg.ModRoleID != "" {
		content = platform.RoleMention(cfg.ModRoleID) + " "
		mentions.Roles = []string{cfg.ModRoleID}
	}
	if userID != "" {
		content += platform.UserMention(userID) + " needs help with verification."
		mentions.Users = []string{userID}
	} else {
		content += "A member needs help with verification."
	}

	_, err := m.client.SendMessage(ctx, cfg.StaffChannelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: mentions,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Verification help requested",
			Description: "Requested from " + platform.ChannelMention(interaction.ChannelID),
			Color:       m.colors.Help,
		}},
	})
	if err != nil {
		m.logger.Warn("help notification failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		m.respond(ctx, interaction, platform.Ephemeral("Could not reach the staff channel. Please try again later."))
		return
	}
	m.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, userID, "help_requested", "")
	m.respond(ctx, interaction, platform.Ephemeral(msgHelpSent))
}

// assign grants the role set named by token. It reports whether the prompt
// is resolved.
func (m *Module) assign(ctx context.Context, interaction *discordgo.Interaction, cfg storage.GuildConfig, token Token) bool {
	guildID := interaction.GuildID
	actorID := platform.InteractionUserID(interaction)

	roleIDs, ok := roleIDsFor(cfg, token)
	if !ok {
		m.metrics.Rejection("stale_role_set")
		m.followup(ctx, interaction, msgRoleSetStale)
		return false
	}

	roles, err := m.client.Roles(ctx, guildID)
	if err != nil {
		m.followup(ctx, interaction, fmt.Sprintf(msgAssignFailed, err))
		return false
	}
	lookup := RolesByID(roles)
	targets := make([]*discordgo.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		if role, ok := lookup(id); ok {
			targets = append(targets, role)
		}
	}
	if len(targets) == 0 {
		m.metrics.Rejection("roles_deleted")
		m.followup(ctx, interaction, msgRolesDeleted)
		return false
	}

	botPosition, err := m.client.BotHighestRolePosition(ctx, guildID)
	if err != nil {
		m.followup(ctx, interaction, fmt.Sprintf(msgAssignFailed, err))
		return false
	}
	if problems := hierarchyProblems(targets, botPosition); len(problems) > 0 {
		m.metrics.Rejection("hierarchy")
		m.audit.Log(ctx, audit.LevelWarn, guildID, actorID, "hierarchy_violation", strings.Join(problems, "; "))
		m.followup(ctx, interaction, msgHierarchyHeader+"\n- "+strings.Join(problems, "\n- "))
		return false
	}

	member, err := m.client.Member(ctx, guildID, token.UserID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			m.followup(ctx, interaction, msgMemberGone)
		} else {
			m.followup(ctx, interaction, fmt.Sprintf(msgAssignFailed, err))
		}
		return false
	}

	grant := make([]string, 0, len(targets))
	for _, role := range targets {
		grant = append(grant, role.ID)
	}
	reason := "Verified by " + actorName(interaction) + " (" + actorID + ")"
	if err := m.client.AddRoles(ctx, guildID, token.UserID, grant, reason); err != nil {
		m.metrics.Verification("failed")
		m.logger.Warn("role assignment failed", zap.String("guild_id", guildID), zap.String("user_id", token.UserID), zap.Error(err))
		m.followup(ctx, interaction, fmt.Sprintf(msgAssignFailed, err))
		return false
	}

	if cfg.NotVerifiedRoleID != "" && platform.HasRole(member, cfg.NotVerifiedRoleID) {
		platform.BestEffort(m.logger, "remove not-verified role", func() error {
			return m.client.RemoveRole(ctx, guildID, token.UserID, cfg.NotVerifiedRoleID, reason)
		}, zap.String("guild_id", guildID))
	}

	mentions := make([]string, 0, len(targets))
	names := make([]string, 0, len(targets))
	for _, role := range targets {
		mentions = append(mentions, platform.RoleMention(role.ID))
		names = append(names, role.Name)
	}
	result := "✅ " + platform.UserMention(token.UserID) + " verified with " + strings.Join(mentions, ", ") + " by " + platform.UserMention(actorID)
	m.closePrompt(ctx, interaction, result, m.colors.Success)

	m.metrics.Verification("assigned")
	m.audit.Log(ctx, audit.LevelInfo, guildID, token.UserID, "verification_assigned", "roles="+strings.Join(grant, ",")+" moderator="+actorID)
	m.followup(ctx, interaction, "Assigned "+strings.Join(mentions, ", ")+" to "+platform.UserMention(token.UserID)+".")

	guildName := m.guildName(ctx, guildID)
	platform.BestEffort(m.logger, "verification dm", func() error {
		return m.client.SendDirect(ctx, token.UserID, &discordgo.MessageSend{
			Content: "You have been verified in **" + guildName + "** and received: " + strings.Join(names, ", ") + ".",
		})
	}, zap.String("guild_id", guildID), zap.String("user_id", token.UserID))
	return true
}

func (m *Module) deny(ctx context.Context, interaction *discordgo.Interaction, cfg storage.GuildConfig, token Token) bool {
	guildID := interaction.GuildID
	actorID := platform.InteractionUserID(interaction)

	if cfg.VerificationChannelID != "" {
		platform.BestEffort(m.logger, "delete submission", func() error {
			return m.client.DeleteMessage(ctx, cfg.VerificationChannelID, token.MessageID)
		}, zap.String("guild_id", guildID))
	}

	m.closePrompt(ctx, interaction, "❌ Verification for "+platform.UserMention(token.UserID)+" denied by "+platform.UserMention(actorID), m.colors.Deny)
	m.metrics.Verification("denied")
	m.audit.Log(ctx, audit.LevelInfo, guildID, token.UserID, "verification_denied", "moderator="+actorID)
	m.followup(ctx, interaction, "Denied verification for "+platform.UserMention(token.UserID)+".")

	guildName := m.guildName(ctx, guildID)
	platform.BestEffort(m.logger, "denial dm", func() error {
		return m.client.SendDirect(ctx, token.UserID, &discordgo.MessageSend{
			Content: "Your verification in **" + guildName + "** was denied. Please post a new, clear screenshot in the verification channel.",
		})
	}, zap.String("guild_id", guildID), zap.String("user_id", token.UserID))
	return true
}

// closePrompt removes the prompt's buttons and appends the result line. The
// embeds are sent back recoloured; an edit without them would erase them.
func (m *Module) closePrompt(ctx context.Context, interaction *discordgo.Interaction, result string, color int) {
	if interaction.Message == nil {
		return
	}
	content := result
	if interaction.Message.Content != "" {
		content = interaction.Message.Content + "\n" + result
	}
	edit := discordgo.NewMessageEdit(interaction.ChannelID, interaction.Message.ID).SetContent(content)
	edit.Components = []discordgo.MessageComponent{}
	edit.Embeds = make([]*discordgo.MessageEmbed, 0, len(interaction.Message.Embeds))
	for _, embed := range interaction.Message.Embeds {
		if embed == nil {
			continue
		}
		kept := *embed
		kept.Color = color
		edit.Embeds = append(edit.Embeds, &kept)
	}
	edit.AllowedMentions = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	if err := m.client.EditMessage(ctx, edit); err != nil {
		m.logger.Warn("prompt edit failed", zap.String("guild_id", interaction.GuildID), zap.String("message_id", interaction.Message.ID), zap.Error(err))
	}
}

func roleIDsFor(cfg storage.GuildConfig, token Token) ([]string, bool) {
	switch token.Action {
	case ActionAssignSet:
		if token.RoleSetIndex < 0 || token.RoleSetIndex >= len(cfg.VerifyRoles) {
			return nil, false
		}
		return cfg.VerifyRoles[token.RoleSetIndex].RoleIDs, true
	case ActionAssignA:
		if len(cfg.VerifyRoles) > 0 || cfg.RoleAID == "" {
			return nil, false
		}
		return []string{cfg.RoleAID}, true
	case ActionAssignB:
		if len(cfg.VerifyRoles) > 0 || cfg.RoleBID == "" {
			return nil, false
		}
		return []string{cfg.RoleBID}, true
	default:
		return nil, false
	}
}

func hierarchyProblems(roles []*discordgo.Role, botPosition int) []string {
	var problems []string
	for _, role := range roles {
		if role.Managed {
			problems = append(problems, fmt.Sprintf("%s (%s) is managed by an integration", role.Name, platform.RoleMention(role.ID)))
			continue
		}
		if role.Position >= botPosition {
			problems = append(problems, fmt.Sprintf("%s (%s) is not below my highest role; move my role above it", role.Name, platform.RoleMention(role.ID)))
		}
	}
	return problems
}

func actorName(interaction *discordgo.Interaction) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.Username
	}
	if interaction.User != nil {
		return interaction.User.Username
	}
	return "unknown"
}

func (m *Module) guildName(ctx context.Context, guildID string) string {
	guild, err := m.client.Guild(ctx, guildID)
	if err != nil || guild == nil || guild.Name == "" {
		return "the server"
	}
	return guild.Name
}

// followup reports the outcome of a click acknowledged with
// platform.DeferredEphemeral.
func (m *Module) followup(ctx context.Context, interaction *discordgo.Interaction, content string) {
	if err := m.client.EditResponse(ctx, interaction, content); err != nil {
		m.logger.Warn("interaction followup failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func (m *Module) respond(ctx context.Context, interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) {
	if err := m.client.Respond(ctx, interaction, resp); err != nil {
		m.logger.Warn("interaction response failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}
