// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"verifybot/internal/platform"

	"github.com/bwmarrin/discordgo"
)

var ErrDMClosed = errors.New("platformtest: direct messages closed")

type SentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

type RoleMutation struct {
	GuildID string
	UserID  string
	RoleIDs []string
	Reason  string
}

type Response struct {
	InteractionID string
	Response      *discordgo.InteractionResponse
}

// Fake records every call. Seed it through the exported maps before use.
type Fake struct {
	mu sync.Mutex

	Channels    map[string]*discordgo.Channel
	Guilds      map[string]*discordgo.Guild
	Members     map[string]*discordgo.Member
	GuildRoles  map[string][]*discordgo.Role
	BotPosition map[string]int
	Viewable    map[string]bool
	DMClosed    map[string]bool

	FailAddRoles error
	FailRespond  error

	Sent      []SentMessage
	Edits     []*discordgo.MessageEdit
	Deleted   []string
	DMs       []SentMessage
	RoleAdds  []RoleMutation
	RoleDrops []RoleMutation
	Responses []Response
	// ResponseEdits holds the content of each EditResponse call.
	ResponseEdits []string

	replies []string
	nextID  int
}

func New() *Fake {
	return &Fake{
		Channels:    make(map[string]*discordgo.Channel),
		Guilds:      make(map[string]*discordgo.Guild),
		Members:     make(map[string]*discordgo.Member),
		GuildRoles:  make(map[string][]*discordgo.Role),
		BotPosition: make(map[string]int),
		Viewable:    make(map[string]bool),
		DMClosed:    make(map[string]bool),
	}
}

func memberKey(guildID, userID string) string { return guildID + "/" + userID }

func (f *Fake) AddTextChannel(guildID, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[channelID] = &discordgo.Channel{ID: channelID, GuildID: guildID, Type: discordgo.ChannelTypeGuildText}
}

func (f *Fake) AddMember(member *discordgo.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[memberKey(member.GuildID, member.User.ID)] = member
}

func (f *Fake) AddRoleDef(guildID string, role *discordgo.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GuildRoles[guildID] = append(f.GuildRoles[guildID], role)
}

func (f *Fake) SetViewable(userID, channelID string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Viewable[userID+"/"+channelID] = ok
}

// MemberRoles returns a snapshot of the member's current roles.
func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	member := f.Members[memberKey(guildID, userID)]
	if member == nil {
		return nil
	}
	return append([]string(nil), member.Roles...)
}

func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// SideEffects counts every outbound call that changes platform state.
func (f *Fake) SideEffects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent) + len(f.Edits) + len(f.Deleted) + len(f.DMs) + len(f.RoleAdds) + len(f.RoleDrops) + len(f.Responses) + len(f.ResponseEdits)
}

func (f *Fake) LastResponse() *discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Responses) == 0 {
		return nil
	}
	return f.Responses[len(f.Responses)-1].Response
}

// LastReply returns the text the acting user saw last, whether it came from
// an immediate response or an edit of a deferred one.
func (f *Fake) LastReply() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func (f *Fake) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel, ok := f.Channels[channelID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return channel, nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Channels[channelID]; !ok {
		return nil, platform.ErrNotFound
	}
	f.nextID++
	f.Sent = append(f.Sent, SentMessage{ChannelID: channelID, Message: msg})
	return &discordgo.Message{ID: "m" + strconv.Itoa(f.nextID), ChannelID: channelID, Content: msg.Content}, nil
}

func (f *Fake) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edits = append(f.Edits, edit)
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, channelID+"/"+messageID)
	return nil
}

func (f *Fake) SendDirect(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DMClosed[userID] {
		return ErrDMClosed
	}
	f.DMs = append(f.DMs, SentMessage{ChannelID: userID, Message: msg})
	return nil
}

func (f *Fake) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.Members[memberKey(guildID, userID)]
	if !ok {
		return nil, platform.ErrNotFound
	}
	copied := *member
	copied.Roles = append([]string(nil), member.Roles...)
	return &copied, nil
}

func (f *Fake) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	guild, ok := f.Guilds[guildID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return guild, nil
}

func (f *Fake) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.Role(nil), f.GuildRoles[guildID]...), nil
}

func (f *Fake) AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAddRoles != nil {
		return f.FailAddRoles
	}
	member, ok := f.Members[memberKey(guildID, userID)]
	if !ok {
		return platform.ErrNotFound
	}
	f.RoleAdds = append(f.RoleAdds, RoleMutation{GuildID: guildID, UserID: userID, RoleIDs: append([]string(nil), roleIDs...), Reason: reason})
	for _, id := range roleIDs {
		if !platform.HasRole(member, id) {
			member.Roles = append(member.Roles, id)
		}
	}
	return nil
}

func (f *Fake) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return f.AddRoles(ctx, guildID, userID, []string{roleID}, reason)
}

func (f *Fake) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.Members[memberKey(guildID, userID)]
	if !ok {
		return platform.ErrNotFound
	}
	f.RoleDrops = append(f.RoleDrops, RoleMutation{GuildID: guildID, UserID: userID, RoleIDs: []string{roleID}, Reason: reason})
	kept := member.Roles[:0]
	for _, id := range member.Roles {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	member.Roles = kept
	return nil
}

func (f *Fake) BotHighestRolePosition(ctx context.Context, guildID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BotPosition[guildID], nil
}

func (f *Fake) CanView(ctx context.Context, userID, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Viewable[userID+"/"+channelID], nil
}

func (f *Fake) Respond(ctx context.Context, interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRespond != nil {
		return f.FailRespond
	}
	f.Responses = append(f.Responses, Response{InteractionID: interaction.ID, Response: resp})
	if resp.Type == discordgo.InteractionResponseChannelMessageWithSource && resp.Data != nil {
		f.replies = append(f.replies, resp.Data.Content)
	}
	return nil
}

func (f *Fake) EditResponse(ctx context.Context, interaction *discordgo.Interaction, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResponseEdits = append(f.ResponseEdits, content)
	f.replies = append(f.replies, content)
	return nil
}

var _ platform.Client = (*Fake)(nil)
