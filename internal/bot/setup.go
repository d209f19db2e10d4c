package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"verifybot/internal/modules/audit"
	"verifybot/internal/modules/verification"
	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	msgGuildOnly        = "This command only works inside a server."
	msgSetupNotAllowed  = "You need the Manage Server permission to change verification settings."
	msgUnknownOption    = "Unknown setup option."
	msgNotTextChannel   = "%s is not a text channel I can post in."
	msgEveryoneRole     = "The @everyone role cannot be used here."
	msgWelcomeEmpty     = "Provide at least one of title, description or mode."
	msgNoRoleSets       = "No role sets configured. Add one with /setup verify-role add."
	msgDuplicateRoleSet = "That role set is already configured."
	msgTooManyRoleSets  = "A staff prompt has room for 24 role sets. Run /setup verify-role clear before adding more."
)

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	out := make(options, len(opts))
	for _, opt := range opts {
		out[opt.Name] = opt
	}
	return out
}

// id returns the snowflake of a channel, role or user option.
func (o options) id(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	value, _ := opt.Value.(string)
	return value
}

func (o options) text(name string) (string, bool) {
	opt, ok := o[name]
	if !ok {
		return "", false
	}
	value, ok := opt.Value.(string)
	return value, ok
}

func canConfigure(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return member.Permissions&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) != 0
}

func (b *Bot) handleSetup(ctx context.Context, interaction *discordgo.Interaction) {
	if interaction.GuildID == "" {
		b.respond(ctx, interaction, msgGuildOnly)
		return
	}
	if !canConfigure(interaction.Member) {
		b.respond(ctx, interaction, msgSetupNotAllowed)
		return
	}

	data := interaction.ApplicationCommandData()
	if len(data.Options) == 0 {
		b.respond(ctx, interaction, msgUnknownOption)
		return
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)
	guildID := interaction.GuildID

	switch sub.Name {
	case "verification-channel":
		b.setChannel(ctx, interaction, opts.id("channel"), "Verification channel", func(id string) storage.GuildPatch {
			return storage.GuildPatch{VerificationChannelID: storage.String(id)}
		})
	case "staff-channel":
		b.setChannel(ctx, interaction, opts.id("channel"), "Staff channel", func(id string) storage.GuildPatch {
			return storage.GuildPatch{StaffChannelID: storage.String(id)}
		})
	case "roles":
		roleA, roleB := opts.id("role_a"), opts.id("role_b")
		if roleA == guildID || roleB == guildID {
			b.respond(ctx, interaction, msgEveryoneRole)
			return
		}
		b.store.Update(guildID, storage.GuildPatch{RoleAID: storage.String(roleA), RoleBID: storage.String(roleB)})
		reply := "Verification role A set to " + platform.RoleMention(roleA) + "."
		if roleB != "" {
			reply += " Role B set to " + platform.RoleMention(roleB) + "."
		} else {
			reply += " Role B cleared."
		}
		b.auditSetup(ctx, interaction, "roles", "a="+roleA+" b="+roleB)
		b.respond(ctx, interaction, reply)
	case "not-verified-role":
		b.setRole(ctx, interaction, opts.id("role"), "Not-verified role", func(id string) storage.GuildPatch {
			return storage.GuildPatch{NotVerifiedRoleID: storage.String(id)}
		})
	case "mod-role":
		b.setRole(ctx, interaction, opts.id("role"), "Moderator role", func(id string) storage.GuildPatch {
			return storage.GuildPatch{ModRoleID: storage.String(id)}
		})
	case "welcome":
		b.setWelcome(ctx, interaction, opts)
	case "verify-role":
		b.handleVerifyRole(ctx, interaction, sub.Options)
	case "show":
		b.showSettings(ctx, interaction)
	default:
		b.respond(ctx, interaction, msgUnknownOption)
	}
}

func (b *Bot) setChannel(ctx context.Context, interaction *discordgo.Interaction, channelID, label string, patch func(string) storage.GuildPatch) {
	channel, err := b.client.Channel(ctx, channelID)
	if err != nil || !platform.IsTextChannel(channel) {
		b.respond(ctx, interaction, fmt.Sprintf(msgNotTextChannel, platform.ChannelMention(channelID)))
		return
	}
	b.store.Update(interaction.GuildID, patch(channelID))
	b.auditSetup(ctx, interaction, strings.ToLower(strings.ReplaceAll(label, " ", "_")), channelID)
	b.respond(ctx, interaction, label+" set to "+platform.ChannelMention(channelID)+".")
}

func (b *Bot) setRole(ctx context.Context, interaction *discordgo.Interaction, roleID, label string, patch func(string) storage.GuildPatch) {
	if roleID == "" || roleID == interaction.GuildID {
		b.respond(ctx, interaction, msgEveryoneRole)
		return
	}
	b.store.Update(interaction.GuildID, patch(roleID))
	b.auditSetup(ctx, interaction, strings.ToLower(strings.ReplaceAll(label, " ", "_")), roleID)
	b.respond(ctx, interaction, label+" set to "+platform.RoleMention(roleID)+".")
}

func (b *Bot) setWelcome(ctx context.Context, interaction *discordgo.Interaction, opts options) {
	var patch storage.GuildPatch
	if title, ok := opts.text("title"); ok {
		patch.WelcomeTitle = storage.String(title)
	}
	if description, ok := opts.text("description"); ok {
		patch.WelcomeDescription = storage.String(description)
	}
	if mode, ok := opts.text("mode"); ok {
		welcomeMode := storage.WelcomeMode(mode)
		if welcomeMode != storage.WelcomeText {
			welcomeMode = storage.WelcomeEmbed
		}
		patch.WelcomeMode = &welcomeMode
	}
	if patch.WelcomeTitle == nil && patch.WelcomeDescription == nil && patch.WelcomeMode == nil {
		b.respond(ctx, interaction, msgWelcomeEmpty)
		return
	}
	cfg := b.store.Update(interaction.GuildID, patch)
	b.auditSetup(ctx, interaction, "welcome", "mode="+string(cfg.EffectiveWelcomeMode()))
	b.respond(ctx, interaction, "Welcome message updated ("+string(cfg.EffectiveWelcomeMode())+" mode).")
}

func (b *Bot) handleVerifyRole(ctx context.Context, interaction *discordgo.Interaction, group []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(group) == 0 {
		b.respond(ctx, interaction, msgUnknownOption)
		return
	}
	action := group[0]
	opts := optionMap(action.Options)
	guildID := interaction.GuildID

	switch action.Name {
	case "add":
		var roleIDs []string
		for _, name := range []string{"role_1", "role_2", "role_3"} {
			id := opts.id(name)
			if id == "" {
				continue
			}
			if id == guildID {
				b.respond(ctx, interaction, msgEveryoneRole)
				return
			}
			roleIDs = append(roleIDs, id)
		}
		label, _ := opts.text("label")
		cfg, err := b.store.AddVerifyRole(guildID, storage.VerifyRole{RoleIDs: roleIDs, Label: strings.TrimSpace(label)})
		switch {
		case errors.Is(err, storage.ErrDuplicateRoleSet):
			b.respond(ctx, interaction, msgDuplicateRoleSet)
			return
		case errors.Is(err, storage.ErrTooManyRoleSets):
			b.respond(ctx, interaction, msgTooManyRoleSets)
			return
		case err != nil:
			b.respond(ctx, interaction, "Could not add role set: "+err.Error()+".")
			return
		}
		index := len(cfg.VerifyRoles) - 1
		b.auditSetup(ctx, interaction, "verify_role_add", "index="+strconv.Itoa(index)+" roles="+strings.Join(roleIDs, ","))
		b.respond(ctx, interaction, fmt.Sprintf("Added role set #%d: %s.", index+1, mentionRoles(cfg.VerifyRoles[index].RoleIDs)))
	case "clear":
		b.store.ClearVerifyRoles(guildID)
		b.auditSetup(ctx, interaction, "verify_role_clear", "")
		b.respond(ctx, interaction, "All role sets removed. Legacy role buttons apply again if configured.")
	case "list":
		cfg, ok := b.store.Get(guildID)
		if !ok || len(cfg.VerifyRoles) == 0 {
			b.respond(ctx, interaction, msgNoRoleSets)
			return
		}
		sets := verification.Resolve(cfg, b.roleLookup(ctx, guildID))
		lines := make([]string, 0, len(sets))
		for _, set := range sets {
			lines = append(lines, fmt.Sprintf("%d. %s (%s)", set.Index+1, mentionRoles(set.RoleIDs), set.Label))
		}
		b.respondEmbed(ctx, interaction, b.commandEmbed("Verification role sets", strings.Join(lines, "\n"), b.cfg.EmbedColors.Prompt, nil))
	default:
		b.respond(ctx, interaction, msgUnknownOption)
	}
}

func (b *Bot) showSettings(ctx context.Context, interaction *discordgo.Interaction) {
	cfg, _ := b.store.Get(interaction.GuildID)
	sets := verification.Resolve(cfg, b.roleLookup(ctx, interaction.GuildID))
	buttons := make([]string, 0, len(sets))
	for _, set := range sets {
		buttons = append(buttons, set.Label)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Verification channel", Value: channelOrUnset(cfg.VerificationChannelID), Inline: true},
		{Name: "Staff channel", Value: channelOrUnset(cfg.StaffChannelID), Inline: true},
		{Name: "Moderator role", Value: roleOrUnset(cfg.ModRoleID), Inline: true},
		{Name: "Not-verified role", Value: roleOrUnset(cfg.NotVerifiedRoleID), Inline: true},
		{Name: "Legacy roles", Value: roleOrUnset(cfg.RoleAID) + " / " + roleOrUnset(cfg.RoleBID), Inline: true},
		{Name: "Welcome mode", Value: string(cfg.EffectiveWelcomeMode()), Inline: true},
		{Name: "Buttons", Value: listOrNone(buttons), Inline: false},
	}
	b.respondEmbed(ctx, interaction, b.commandEmbed("Verification settings", "", b.cfg.EmbedColors.Prompt, fields))
}

func (b *Bot) roleLookup(ctx context.Context, guildID string) verification.RoleLookup {
	roles, err := b.client.Roles(ctx, guildID)
	if err != nil {
		b.logger.Debug("fetch roles failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	return verification.RolesByID(roles)
}

func (b *Bot) auditSetup(ctx context.Context, interaction *discordgo.Interaction, setting, value string) {
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, platform.InteractionUserID(interaction), "setup_"+setting, value)
}

func mentionRoles(roleIDs []string) string {
	mentions := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		mentions = append(mentions, platform.RoleMention(id))
	}
	return strings.Join(mentions, " + ")
}

func channelOrUnset(id string) string {
	if id == "" {
		return "not set"
	}
	return platform.ChannelMention(id)
}

func roleOrUnset(id string) string {
	if id == "" {
		return "not set"
	}
	return platform.RoleMention(id)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, "\n")
}
