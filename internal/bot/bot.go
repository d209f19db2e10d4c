package bot

import (
	"context"
	"time"

	"verifybot/internal/config"
	"verifybot/internal/metrics"
	"verifybot/internal/modules/audit"
	"verifybot/internal/modules/verification"
	"verifybot/internal/modules/welcome"
	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	eventTimeout     = 30 * time.Second
	msgInternalError = "Something went wrong while handling that. Please try again."
)

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *storage.Store
	audit   *audit.Logger
	metrics *metrics.Metrics
	session *discordgo.Session
	client  platform.Client
	verify  *verification.Module
	welcome *welcome.Module
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := newBot(cfg, logger, store, newSessionClient(session), auditLogger, m)
	b.session = session
	return b, nil
}

func newBot(cfg config.Config, logger *zap.Logger, store *storage.Store, client platform.Client, auditLogger *audit.Logger, m *metrics.Metrics) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		audit:   auditLogger,
		metrics: m,
		client:  client,
		verify:  verification.New(store, client, auditLogger, m, logger.Named("verification"), cfg.EmbedColors),
		welcome: welcome.New(store, client, m, logger.Named("welcome"), cfg.Welcome, cfg.EmbedColors.Welcome),
	}
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	_, configured := b.store.Get(event.ID)
	b.logger.Info("guild available",
		zap.String("guild_id", event.ID),
		zap.String("guild", event.Name),
		zap.Int("members", event.MemberCount),
		zap.Bool("configured", configured),
	)
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	defer b.recoverHandler("message_create", nil)
	ctx, cancel := eventContext()
	defer cancel()
	b.verify.HandleMessage(ctx, msg)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	defer b.recoverHandler("guild_member_add", nil)
	ctx, cancel := eventContext()
	defer cancel()
	b.welcome.HandleJoin(ctx, event.Member)
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	defer b.recoverHandler("guild_member_update", nil)
	ctx, cancel := eventContext()
	defer cancel()
	b.welcome.HandleMemberUpdate(ctx, event)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	defer b.recoverHandler("guild_member_remove", nil)
	if event.Member == nil || event.User == nil {
		return
	}
	b.welcome.HandleLeave(event.GuildID, event.User.ID)
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, event *discordgo.InteractionCreate) {
	if event == nil || event.Interaction == nil {
		return
	}
	interaction := event.Interaction
	defer b.recoverHandler("interaction_create", interaction)
	ctx, cancel := eventContext()
	defer cancel()

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		if interaction.ApplicationCommandData().Name == setupCommand {
			b.handleSetup(ctx, interaction)
		}
	case discordgo.InteractionMessageComponent:
		if !b.verify.HandleButton(ctx, interaction) {
			b.logger.Debug("unhandled component", zap.String("custom_id", interaction.MessageComponentData().CustomID))
		}
	}
}

// recoverHandler keeps one failing event from taking the process down. An
// interaction gets a generic ephemeral reply so the actor is not left waiting.
func (b *Bot) recoverHandler(handler string, interaction *discordgo.Interaction) {
	r := recover()
	if r == nil {
		return
	}
	b.logger.Error("handler panic", zap.String("handler", handler), zap.Any("panic", r), zap.Stack("stack"))
	b.metrics.Panic(handler)
	if interaction == nil {
		return
	}
	ctx, cancel := eventContext()
	defer cancel()
	if err := b.client.Respond(ctx, interaction, platform.Ephemeral(msgInternalError)); err != nil {
		b.logger.Debug("panic reply failed", zap.String("handler", handler), zap.Error(err))
	}
}

func eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

func (b *Bot) respond(ctx context.Context, interaction *discordgo.Interaction, content string) {
	if err := b.client.Respond(ctx, interaction, platform.Ephemeral(content)); err != nil {
		b.logger.Warn("interaction reply failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

func (b *Bot) respondEmbed(ctx context.Context, interaction *discordgo.Interaction, embed *discordgo.MessageEmbed) {
	if embed == nil {
		b.respond(ctx, interaction, "No response available.")
		return
	}
	if err := b.client.Respond(ctx, interaction, platform.EphemeralEmbed(embed)); err != nil {
		b.logger.Warn("interaction reply failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
