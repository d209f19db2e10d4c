package bot

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const setupCommand = "setup"

var manageGuild int64 = discordgo.PermissionManageServer

func channelOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         name,
		Description:  description,
		Required:     true,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
	}
}

func roleOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func setupDefinition() *discordgo.ApplicationCommand {
	dmPermission := false
	return &discordgo.ApplicationCommand{
		Name:                     setupCommand,
		Description:              "Configure member verification",
		DefaultMemberPermissions: &manageGuild,
		DMPermission:             &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "verification-channel",
				Description: "Channel where members post their verification screenshot",
				Options:     []*discordgo.ApplicationCommandOption{channelOption("channel", "Verification channel")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "staff-channel",
				Description: "Channel where moderators review submissions",
				Options:     []*discordgo.ApplicationCommandOption{channelOption("channel", "Staff channel")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "roles",
				Description: "Set the two single-role verification buttons",
				Options: []*discordgo.ApplicationCommandOption{
					roleOption("role_a", "First verification role", true),
					roleOption("role_b", "Second verification role (omit to clear)", false),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "not-verified-role",
				Description: "Role given to members on join until they are verified",
				Options:     []*discordgo.ApplicationCommandOption{roleOption("role", "Not-verified role", true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "mod-role",
				Description: "Role allowed to resolve verification requests",
				Options:     []*discordgo.ApplicationCommandOption{roleOption("role", "Moderator role", true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "welcome",
				Description: "Welcome message template; {user} and {verification_channel} are replaced",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Welcome title", MaxLength: 256},
					{Type: discordgo.ApplicationCommandOptionString, Name: "description", Description: "Welcome body", MaxLength: 2000},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "mode",
						Description: "embed or text",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "embed", Value: "embed"},
							{Name: "text", Value: "text"},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "verify-role",
				Description: "Role sets offered as verification buttons",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "add",
						Description: "Add a role set (up to three roles granted together)",
						Options: []*discordgo.ApplicationCommandOption{
							roleOption("role_1", "First role", true),
							roleOption("role_2", "Second role", false),
							roleOption("role_3", "Third role", false),
							{Type: discordgo.ApplicationCommandOptionString, Name: "label", Description: "Button label", MaxLength: 80},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "clear",
						Description: "Remove every role set",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "list",
						Description: "List the configured role sets",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show the current verification settings",
			},
		},
	}
}

// registerCommands installs /setup globally, or in COMMAND_GUILD_ID when set,
// and deletes commands left over from older builds.
func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{setupDefinition()}

	appID := b.session.State.User.ID
	scope := b.cfg.CommandGuildID
	existing, err := b.session.ApplicationCommands(appID, scope)
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, scope, current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := b.session.ApplicationCommandDelete(appID, scope, cmd.ID); err != nil {
			b.logger.Warn("delete stale command failed", zap.String("command", cmd.Name), zap.Error(err))
		}
	}

	b.logger.Info("commands registered", zap.String("scope", scopeLabel(scope)), zap.Int("count", len(commands)))
	return nil
}

func scopeLabel(guildID string) string {
	if guildID == "" {
		return "global"
	}
	return "guild:" + guildID
}
