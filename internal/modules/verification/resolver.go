package verification

import (
	"strings"

	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const maxButtonLabel = 80

type Source int

const (
	SourceFlexible Source = iota
	SourceLegacyA
	SourceLegacyB
)

// RoleSet is one assignable button: the roles it grants and its label.
type RoleSet struct {
	RoleIDs []string
	Label   string
	Source  Source
	// Index is the position in verifyRoles for flexible sets.
	Index int
}

// RoleLookup resolves a role id against the guild's live roles.
type RoleLookup func(roleID string) (*discordgo.Role, bool)

func RolesByID(roles []*discordgo.Role) RoleLookup {
	byID := make(map[string]*discordgo.Role, len(roles))
	for _, role := range roles {
		if role != nil {
			byID[role.ID] = role
		}
	}
	return func(roleID string) (*discordgo.Role, bool) {
		role, ok := byID[roleID]
		return role, ok
	}
}

// Resolve lists the guild's assignable role sets in button order. Flexible
// sets win; the legacy A/B roles are used only when none are configured.
func Resolve(cfg storage.GuildConfig, lookup RoleLookup) []RoleSet {
	if lookup == nil {
		lookup = RolesByID(nil)
	}

	if len(cfg.VerifyRoles) > 0 {
		sets := make([]RoleSet, 0, len(cfg.VerifyRoles))
		for i, entry := range cfg.VerifyRoles {
			label := entry.Label
			if label == "" {
				label = defaultLabel(entry.RoleIDs, lookup)
			}
			sets = append(sets, RoleSet{
				RoleIDs: append([]string(nil), entry.RoleIDs...),
				Label:   truncate(label, maxButtonLabel),
				Source:  SourceFlexible,
				Index:   i,
			})
		}
		return sets
	}

	var sets []RoleSet
	if cfg.RoleAID != "" {
		sets = append(sets, RoleSet{RoleIDs: []string{cfg.RoleAID}, Label: truncate(defaultLabel([]string{cfg.RoleAID}, lookup), maxButtonLabel), Source: SourceLegacyA, Index: NoIndex})
	}
	if cfg.RoleBID != "" {
		sets = append(sets, RoleSet{RoleIDs: []string{cfg.RoleBID}, Label: truncate(defaultLabel([]string{cfg.RoleBID}, lookup), maxButtonLabel), Source: SourceLegacyB, Index: NoIndex})
	}
	return sets
}

// Token builds the button token that assigns this set.
func (r RoleSet) Token(messageID, userID string) Token {
	switch r.Source {
	case SourceLegacyA:
		return AssignToken(ActionAssignA, NoIndex, messageID, userID)
	case SourceLegacyB:
		return AssignToken(ActionAssignB, NoIndex, messageID, userID)
	default:
		return AssignToken(ActionAssignSet, r.Index, messageID, userID)
	}
}

func defaultLabel(roleIDs []string, lookup RoleLookup) string {
	names := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		if role, ok := lookup(id); ok && role.Name != "" {
			names = append(names, role.Name)
			continue
		}
		names = append(names, id)
	}
	return "Verify: " + strings.Join(names, " + ")
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
