package verification

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"verifybot/internal/config"
	"verifybot/internal/modules/audit"
	"verifybot/internal/platform/platformtest"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

const (
	guildID       = "g1"
	verifyChannel = "c-verify"
	staffChannel  = "c-staff"
	modRole       = "mod"
	notVerified   = "nv"
	targetUser    = "u1"
	submissionID  = "src1"
	promptID      = "prompt1"
)

type harness struct {
	store  *storage.Store
	fake   *platformtest.Fake
	module *Module
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Load(filepath.Join(t.TempDir(), "settings.json"), zap.NewNop())
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	fake := platformtest.New()
	fake.AddTextChannel(guildID, verifyChannel)
	fake.AddTextChannel(guildID, staffChannel)
	fake.Guilds[guildID] = &discordgo.Guild{ID: guildID, Name: "Test Guild"}
	fake.AddRoleDef(guildID, &discordgo.Role{ID: "R1", Name: "Vetted", Position: 2})
	fake.AddRoleDef(guildID, &discordgo.Role{ID: notVerified, Name: "Unverified", Position: 1})
	fake.BotPosition[guildID] = 5
	fake.AddMember(&discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: targetUser}, Roles: []string{notVerified}})

	module := New(store, fake, audit.NewLogger(zap.NewNop(), nil), nil, zap.NewNop(), config.DefaultConfig().EmbedColors)
	return &harness{store: store, fake: fake, module: module}
}

func (h *harness) configure(t *testing.T, sets ...storage.VerifyRole) {
	t.Helper()
	h.store.Update(guildID, storage.GuildPatch{
		VerificationChannelID: storage.String(verifyChannel),
		StaffChannelID:        storage.String(staffChannel),
		ModRoleID:             storage.String(modRole),
		NotVerifiedRoleID:     storage.String(notVerified),
	})
	for _, set := range sets {
		if _, err := h.store.AddVerifyRole(guildID, set); err != nil {
			t.Fatalf("add verify role: %v", err)
		}
	}
}

func submission(filename, contentType string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        submissionID,
		ChannelID: verifyChannel,
		GuildID:   guildID,
		Author:    &discordgo.User{ID: targetUser},
		Attachments: []*discordgo.MessageAttachment{{
			ID:          "a1",
			Filename:    filename,
			ContentType: contentType,
			URL:         "https://cdn.example/" + filename,
		}},
	}}
}

func click(t *testing.T, id string, token Token, member *discordgo.Member) *discordgo.Interaction {
	t.Helper()
	customID, err := Encode(token)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &discordgo.Interaction{
		ID:        id,
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   guildID,
		ChannelID: staffChannel,
		Message: &discordgo.Message{
			ID:        promptID,
			ChannelID: staffChannel,
			Content:   "<@&" + modRole + ">",
			Embeds:    []*discordgo.MessageEmbed{promptEmbed()},
		},
		Member: member,
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID, ComponentType: discordgo.ButtonComponent},
	}
}

func promptEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Verification submission",
		Color: config.DefaultConfig().EmbedColors.Prompt,
		Image: &discordgo.MessageEmbedImage{URL: "https://cdn.example/proof.png"},
	}
}

func moderator() *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: "mod1", Username: "Mira"}, Roles: []string{modRole}}
}

func buttonsOf(t *testing.T, send *discordgo.MessageSend) []discordgo.Button {
	t.Helper()
	var buttons []discordgo.Button
	for _, component := range send.Components {
		row, ok := component.(discordgo.ActionsRow)
		if !ok {
			t.Fatalf("expected action row, got %T", component)
		}
		if len(row.Components) > buttonsPerRow {
			t.Fatalf("row holds %d buttons", len(row.Components))
		}
		for _, inner := range row.Components {
			buttons = append(buttons, inner.(discordgo.Button))
		}
	}
	return buttons
}

func responseContent(t *testing.T, resp *discordgo.InteractionResponse) string {
	t.Helper()
	if resp == nil || resp.Data == nil {
		t.Fatalf("expected interaction response")
	}
	if resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("expected ephemeral response")
	}
	return resp.Data.Content
}

func TestSubmissionProducesStaffPrompt(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	h.module.HandleMessage(context.Background(), submission("proof.PNG", ""))

	if len(h.fake.Sent) != 1 {
		t.Fatalf("expected 1 staff prompt, got %d", len(h.fake.Sent))
	}
	sent := h.fake.Sent[0]
	if sent.ChannelID != staffChannel {
		t.Fatalf("prompt sent to %s", sent.ChannelID)
	}
	buttons := buttonsOf(t, sent.Message)
	labels := []string{}
	for _, button := range buttons {
		labels = append(labels, button.Label)
	}
	if diff := cmp.Diff([]string{"Vet", "Deny"}, labels); diff != "" {
		t.Fatalf("unexpected buttons (-want +got):\n%s", diff)
	}
	token, err := Decode(buttons[0].CustomID)
	if err != nil {
		t.Fatalf("decode button: %v", err)
	}
	if token != AssignToken(ActionAssignSet, 0, submissionID, targetUser) {
		t.Fatalf("unexpected token %+v", token)
	}
	if got := sent.Message.AllowedMentions.Roles; len(got) != 1 || got[0] != modRole {
		t.Fatalf("moderator role not allowlisted: %v", got)
	}
	if sent.Message.Embeds[0].Image.URL != "https://cdn.example/proof.PNG" {
		t.Fatalf("unexpected image %q", sent.Message.Embeds[0].Image.URL)
	}
}

func TestSubmissionIgnoresNonImagesAndOtherChannels(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	h.module.HandleMessage(context.Background(), submission("notes.txt", "text/plain"))
	other := submission("proof.png", "image/png")
	other.ChannelID = staffChannel
	h.module.HandleMessage(context.Background(), other)

	if h.fake.SentCount() != 0 {
		t.Fatalf("expected no prompt, got %d", h.fake.SentCount())
	}
}

func TestSubmissionDetectsContentType(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	h.module.HandleMessage(context.Background(), submission("blob", "image/heic"))
	if h.fake.SentCount() != 1 {
		t.Fatalf("expected prompt for image content type")
	}
}

func TestSubmissionChunksButtons(t *testing.T) {
	h := newHarness(t)
	sets := []storage.VerifyRole{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		sets = append(sets, storage.VerifyRole{RoleIDs: []string{id}, Label: id})
	}
	h.configure(t, sets...)

	h.module.HandleMessage(context.Background(), submission("proof.webp", ""))

	sent := h.fake.Sent[0].Message
	if len(sent.Components) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sent.Components))
	}
	if got := len(buttonsOf(t, sent)); got != 7 {
		t.Fatalf("expected 7 buttons, got %d", got)
	}
}

func TestSubmissionFitsButtonLimits(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	_, err := h.store.Mutate(guildID, func(cfg *storage.GuildConfig) error {
		for i := 0; i < 30; i++ {
			cfg.VerifyRoles = append(cfg.VerifyRoles, storage.VerifyRole{RoleIDs: []string{fmt.Sprintf("r%d", i)}, Label: fmt.Sprintf("set %d", i)})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed role sets: %v", err)
	}

	h.module.HandleMessage(context.Background(), submission("proof.png", "image/png"))

	if len(h.fake.Sent) != 1 {
		t.Fatalf("expected staff prompt, got %d messages", len(h.fake.Sent))
	}
	sent := h.fake.Sent[0].Message
	if len(sent.Components) > 5 {
		t.Fatalf("prompt has %d rows", len(sent.Components))
	}
	buttons := buttonsOf(t, sent)
	if len(buttons) != storage.MaxRoleSets+1 {
		t.Fatalf("expected %d buttons, got %d", storage.MaxRoleSets+1, len(buttons))
	}
	if last := buttons[len(buttons)-1]; last.Label != "Deny" || last.Style != discordgo.DangerButton {
		t.Fatalf("expected deny as the last button, got %+v", last)
	}
}

func TestUnconfiguredGuildIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.module.HandleMessage(ctx, submission("proof.png", "image/png"))
	handled := h.module.HandleButton(ctx, click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))
	h.module.HandleButton(ctx, click(t, "i2", HelpToken(), moderator()))

	if !handled {
		t.Fatalf("expected module to claim its token")
	}
	if n := h.fake.SideEffects(); n != 0 {
		t.Fatalf("expected no side effects, got %d", n)
	}
}

func TestModeratorAssignsRoleSet(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))

	if diff := cmp.Diff([]string{"R1"}, h.fake.MemberRoles(guildID, targetUser)); diff != "" {
		t.Fatalf("unexpected member roles (-want +got):\n%s", diff)
	}
	if len(h.fake.RoleAdds) != 1 || !strings.Contains(h.fake.RoleAdds[0].Reason, "Mira") {
		t.Fatalf("expected one audited role mutation, got %+v", h.fake.RoleAdds)
	}
	if len(h.fake.Edits) != 1 {
		t.Fatalf("expected prompt edit")
	}
	edit := h.fake.Edits[0]
	if edit.Components == nil || len(edit.Components) != 0 {
		t.Fatalf("expected components cleared, got %v", edit.Components)
	}
	if edit.Content == nil || !strings.Contains(*edit.Content, "<@&R1>") || !strings.Contains(*edit.Content, "<@mod1>") {
		t.Fatalf("unexpected result line %v", edit.Content)
	}
	if len(h.fake.DMs) != 1 || !strings.Contains(h.fake.DMs[0].Message.Content, "Test Guild") {
		t.Fatalf("expected verification dm, got %+v", h.fake.DMs)
	}
	if !strings.HasPrefix(h.fake.LastReply(), "Assigned") {
		t.Fatalf("unexpected response")
	}
}

func TestAssignSucceedsWhenDirectMessagesClosed(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})
	h.fake.DMClosed[targetUser] = true

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))

	if len(h.fake.RoleAdds) != 1 || len(h.fake.Edits) != 1 {
		t.Fatalf("expected assignment to complete")
	}
	if !strings.HasPrefix(h.fake.LastReply(), "Assigned") {
		t.Fatalf("expected success response")
	}
}

func TestNonModeratorIsRejected(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})
	outsider := &discordgo.Member{User: &discordgo.User{ID: "x"}, Roles: []string{}}

	for i, token := range []Token{
		AssignToken(ActionAssignSet, 0, submissionID, targetUser),
		DenyToken(submissionID, targetUser),
	} {
		h.module.HandleButton(context.Background(), click(t, "i"+string(rune('0'+i)), token, outsider))
		if got := responseContent(t, h.fake.LastResponse()); got != msgNotAllowed {
			t.Fatalf("expected rejection, got %q", got)
		}
	}
	if len(h.fake.RoleAdds) != 0 || len(h.fake.RoleDrops) != 0 || len(h.fake.Edits) != 0 || len(h.fake.Deleted) != 0 {
		t.Fatalf("expected no mutation")
	}
}

func TestManageRolesPermissionIsEnough(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})
	manager := &discordgo.Member{User: &discordgo.User{ID: "mgr"}, Permissions: discordgo.PermissionManageRoles}

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), manager))

	if len(h.fake.RoleAdds) != 1 {
		t.Fatalf("expected manager to assign roles")
	}
}

func TestHierarchyViolationBlocksWholeSet(t *testing.T) {
	h := newHarness(t)
	h.fake.AddRoleDef(guildID, &discordgo.Role{ID: "R2", Name: "Elder", Position: 9})
	h.fake.AddRoleDef(guildID, &discordgo.Role{ID: "R3", Name: "Bot Role", Position: 1, Managed: true})
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1", "R2", "R3"}, Label: "All"})

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))

	got := h.fake.LastReply()
	if !strings.Contains(got, "Elder") || !strings.Contains(got, "Bot Role") || strings.Contains(got, "Vetted") {
		t.Fatalf("unexpected diagnostic %q", got)
	}
	if len(h.fake.RoleAdds) != 0 || len(h.fake.Edits) != 0 {
		t.Fatalf("expected no roles added and prompt untouched")
	}

	// A failed attempt leaves the prompt open for another try.
	h.fake.GuildRoles[guildID] = []*discordgo.Role{{ID: "R1", Name: "Vetted", Position: 2}}
	h.module.HandleButton(context.Background(), click(t, "i2", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))
	if len(h.fake.RoleAdds) != 1 {
		t.Fatalf("expected retry to assign remaining role")
	}
}

func TestStaleRoleSetIndex(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 3, submissionID, targetUser), moderator()))

	if got := h.fake.LastReply(); got != msgRoleSetStale {
		t.Fatalf("expected stale diagnostic, got %q", got)
	}
	if len(h.fake.RoleAdds) != 0 {
		t.Fatalf("expected no mutation")
	}
}

func TestDeletedRoles(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"gone"}, Label: "Gone"})

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))

	if got := h.fake.LastReply(); got != msgRolesDeleted {
		t.Fatalf("expected deleted diagnostic, got %q", got)
	}
}

func TestLegacyRoleAssignment(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	h.store.Update(guildID, storage.GuildPatch{RoleAID: storage.String("R1")})

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignA, NoIndex, submissionID, targetUser), moderator()))
	if len(h.fake.RoleAdds) != 1 || h.fake.RoleAdds[0].RoleIDs[0] != "R1" {
		t.Fatalf("expected legacy role grant, got %+v", h.fake.RoleAdds)
	}

	h2 := newHarness(t)
	h2.configure(t)
	h2.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignB, NoIndex, submissionID, targetUser), moderator()))
	if got := h2.fake.LastReply(); got != msgRoleSetStale {
		t.Fatalf("expected stale for unset role B, got %q", got)
	}
}

func TestDenyClosesPrompt(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	h.module.HandleButton(context.Background(), click(t, "i1", DenyToken(submissionID, targetUser), moderator()))

	if diff := cmp.Diff([]string{verifyChannel + "/" + submissionID}, h.fake.Deleted); diff != "" {
		t.Fatalf("unexpected deletions (-want +got):\n%s", diff)
	}
	if len(h.fake.Edits) != 1 || len(h.fake.Edits[0].Components) != 0 || !strings.Contains(*h.fake.Edits[0].Content, "denied by <@mod1>") {
		t.Fatalf("unexpected prompt edit")
	}
	if len(h.fake.DMs) != 1 {
		t.Fatalf("expected denial dm")
	}
	if len(h.fake.RoleAdds) != 0 {
		t.Fatalf("deny must not grant roles")
	}
}

func TestClosingPromptKeepsEmbed(t *testing.T) {
	colors := config.DefaultConfig().EmbedColors
	for _, tc := range []struct {
		name  string
		token Token
		color int
	}{
		{"assign", AssignToken(ActionAssignSet, 0, submissionID, targetUser), colors.Success},
		{"deny", DenyToken(submissionID, targetUser), colors.Deny},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})
			interaction := click(t, "i1", tc.token, moderator())

			h.module.HandleButton(context.Background(), interaction)

			if len(h.fake.Edits) != 1 {
				t.Fatalf("expected prompt edit, got %d", len(h.fake.Edits))
			}
			embeds := h.fake.Edits[0].Embeds
			if len(embeds) != 1 {
				t.Fatalf("expected the prompt embed to survive, got %d embeds", len(embeds))
			}
			want := promptEmbed()
			want.Color = tc.color
			if diff := cmp.Diff(want, embeds[0]); diff != "" {
				t.Fatalf("unexpected embed (-want +got):\n%s", diff)
			}
			if got := interaction.Message.Embeds[0].Color; got != colors.Prompt {
				t.Fatalf("original embed mutated to color %x", got)
			}
		})
	}
}

func TestClickIsAcknowledgedBeforeOutcome(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	h.module.HandleButton(context.Background(), click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))

	if len(h.fake.Responses) != 1 {
		t.Fatalf("expected a single initial response, got %d", len(h.fake.Responses))
	}
	ack := h.fake.Responses[0].Response
	if ack.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("expected deferred acknowledgement, got type %d", ack.Type)
	}
	if ack.Data == nil || ack.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("expected ephemeral acknowledgement")
	}
	if len(h.fake.ResponseEdits) != 1 || !strings.HasPrefix(h.fake.ResponseEdits[0], "Assigned") {
		t.Fatalf("expected outcome as a response edit, got %q", h.fake.ResponseEdits)
	}
}

func TestFailedAcknowledgementLeavesPromptOpen(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})
	h.fake.FailRespond = errors.New("unknown interaction")
	ctx := context.Background()

	h.module.HandleButton(ctx, click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))
	if len(h.fake.RoleAdds) != 0 || len(h.fake.Edits) != 0 {
		t.Fatalf("expected no mutation without an acknowledgement")
	}

	h.fake.FailRespond = nil
	h.module.HandleButton(ctx, click(t, "i2", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))
	if len(h.fake.RoleAdds) != 1 {
		t.Fatalf("expected a later click to assign, got %d role adds", len(h.fake.RoleAdds))
	}
}

func TestSecondClickIsRefused(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})
	ctx := context.Background()

	h.module.HandleButton(ctx, click(t, "i1", AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator()))
	h.module.HandleButton(ctx, click(t, "i2", DenyToken(submissionID, targetUser), moderator()))

	if got := responseContent(t, h.fake.LastResponse()); got != msgAlreadyHandled {
		t.Fatalf("expected already handled, got %q", got)
	}
	if len(h.fake.RoleAdds) != 1 || len(h.fake.Deleted) != 0 {
		t.Fatalf("second click must not mutate")
	}
}

func TestConcurrentClicksRunOnce(t *testing.T) {
	h := newHarness(t)
	h.configure(t, storage.VerifyRole{RoleIDs: []string{"R1"}, Label: "Vet"})

	clicks := make([]*discordgo.Interaction, 8)
	for i := range clicks {
		clicks[i] = click(t, "i"+string(rune('a'+i)), AssignToken(ActionAssignSet, 0, submissionID, targetUser), moderator())
	}

	var wg sync.WaitGroup
	for _, interaction := range clicks {
		wg.Add(1)
		go func(interaction *discordgo.Interaction) {
			defer wg.Done()
			h.module.HandleButton(context.Background(), interaction)
		}(interaction)
	}
	wg.Wait()

	if len(h.fake.RoleAdds) != 1 {
		t.Fatalf("expected a single role mutation, got %d", len(h.fake.RoleAdds))
	}
	if len(h.fake.Responses) != 8 {
		t.Fatalf("expected every click answered, got %d", len(h.fake.Responses))
	}
}

func TestHelpNotifiesStaff(t *testing.T) {
	h := newHarness(t)
	h.configure(t)
	member := &discordgo.Member{User: &discordgo.User{ID: "newbie"}}

	h.module.HandleButton(context.Background(), click(t, "i1", HelpToken(), member))

	if len(h.fake.Sent) != 1 || h.fake.Sent[0].ChannelID != staffChannel {
		t.Fatalf("expected staff notification")
	}
	mentions := h.fake.Sent[0].Message.AllowedMentions
	if diff := cmp.Diff([]string{modRole}, mentions.Roles); diff != "" {
		t.Fatalf("unexpected role mentions:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"newbie"}, mentions.Users); diff != "" {
		t.Fatalf("unexpected user mentions:\n%s", diff)
	}
	if got := responseContent(t, h.fake.LastResponse()); got != msgHelpSent {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestForeignButtonIsIgnored(t *testing.T) {
	h := newHarness(t)
	interaction := &discordgo.Interaction{
		ID:      "i1",
		Type:    discordgo.InteractionMessageComponent,
		GuildID: guildID,
		Data:    discordgo.MessageComponentInteractionData{CustomID: "something_else"},
	}
	if h.module.HandleButton(context.Background(), interaction) {
		t.Fatalf("expected foreign custom id to be ignored")
	}
}
