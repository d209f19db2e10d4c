package verification

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"

	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// buttonsPerRow is the platform's limit for one action row.
const buttonsPerRow = 5

var imageExtension = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp)$`)

// HandleMessage forwards an image posted in the verification channel to the
// staff channel as a prompt with one button per role set and a deny button.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg == nil || msg.Message == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	cfg, ok := m.store.Get(msg.GuildID)
	if !ok || cfg.VerificationChannelID == "" || cfg.StaffChannelID == "" {
		return
	}
	if msg.ChannelID != cfg.VerificationChannelID {
		return
	}
	image := firstImage(msg.Attachments)
	if image == nil {
		return
	}

	staff, err := m.client.Channel(ctx, cfg.StaffChannelID)
	if err != nil || !platform.IsTextChannel(staff) {
		m.logger.Warn("staff channel unavailable", zap.String("guild_id", msg.GuildID), zap.String("channel_id", cfg.StaffChannelID), zap.Error(err))
		return
	}

	sets := Resolve(cfg, m.liveRoles(ctx, msg.GuildID))
	if len(sets) > storage.MaxRoleSets {
		// Only a hand-edited settings file gets here; the prompt cannot
		// carry more buttons.
		m.logger.Warn("too many role sets, truncating prompt", zap.String("guild_id", msg.GuildID), zap.Int("sets", len(sets)), zap.Int("shown", storage.MaxRoleSets))
		sets = sets[:storage.MaxRoleSets]
	}
	prompt, err := m.buildPrompt(cfg, msg, image, sets)
	if err != nil {
		m.logger.Error("build staff prompt failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return
	}
	if _, err := m.client.SendMessage(ctx, staff.ID, prompt); err != nil {
		m.logger.Warn("send staff prompt failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return
	}
	m.metrics.Submission()
	m.logger.Info("verification submitted", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.Author.ID), zap.String("message_id", msg.ID))
}

func (m *Module) buildPrompt(cfg storage.GuildConfig, msg *discordgo.MessageCreate, image *discordgo.MessageAttachment, sets []RoleSet) (*discordgo.MessageSend, error) {
	buttons := make([]discordgo.MessageComponent, 0, len(sets)+1)
	for _, set := range sets {
		customID, err := Encode(set.Token(msg.ID, msg.Author.ID))
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, discordgo.Button{
			Label:    set.Label,
			Style:    discordgo.SuccessButton,
			CustomID: customID,
		})
	}
	denyID, err := Encode(DenyToken(msg.ID, msg.Author.ID))
	if err != nil {
		return nil, err
	}
	buttons = append(buttons, discordgo.Button{
		Label:    "Deny",
		Style:    discordgo.DangerButton,
		CustomID: denyID,
	})

	description := platform.UserMention(msg.Author.ID) + " posted a verification screenshot.\n" +
		"[Jump to message](" + platform.MessageLink(msg.GuildID, msg.ChannelID, msg.ID) + ")"
	if len(sets) == 0 {
		description += "\n\nNo verification roles are configured; only deny is available."
	}

	send := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Verification request",
			Description: description,
			Color:       m.colors.Prompt,
			Image:       &discordgo.MessageEmbedImage{URL: image.URL},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "User", Value: platform.UserMention(msg.Author.ID) + " (" + msg.Author.ID + ")", Inline: true},
			},
			Timestamp: time.Now().Format(time.RFC3339),
		}},
		Components: chunkButtons(buttons),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}
	if cfg.ModRoleID != "" {
		send.Content = platform.RoleMention(cfg.ModRoleID)
		send.AllowedMentions.Roles = []string{cfg.ModRoleID}
	}
	return send, nil
}

func chunkButtons(buttons []discordgo.MessageComponent) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, (len(buttons)+buttonsPerRow-1)/buttonsPerRow)
	for start := 0; start < len(buttons); start += buttonsPerRow {
		end := start + buttonsPerRow
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons[start:end]})
	}
	return rows
}

func firstImage(attachments []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, attachment := range attachments {
		if isImage(attachment) {
			return attachment
		}
	}
	return nil
}

func isImage(attachment *discordgo.MessageAttachment) bool {
	if attachment == nil {
		return false
	}
	if strings.HasPrefix(strings.ToLower(attachment.ContentType), "image/") {
		return true
	}
	if imageExtension.MatchString(attachment.Filename) {
		return true
	}
	urlPath := attachment.URL
	if idx := strings.IndexAny(urlPath, "?#"); idx >= 0 {
		urlPath = urlPath[:idx]
	}
	return imageExtension.MatchString(path.Base(urlPath))
}
