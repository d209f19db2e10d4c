package storage

type WelcomeMode string

const (
	WelcomeEmbed WelcomeMode = "embed"
	WelcomeText  WelcomeMode = "text"
)

type GuildConfig struct {
	VerificationChannelID string       `json:"verificationChannelId,omitempty"`
	StaffChannelID        string       `json:"staffChannelId,omitempty"`
	RoleAID               string       `json:"roleAId,omitempty"`
	RoleBID               string       `json:"roleBId,omitempty"`
	NotVerifiedRoleID     string       `json:"notVerifiedRoleId,omitempty"`
	ModRoleID             string       `json:"modRoleId,omitempty"`
	VerifyRoles           []VerifyRole `json:"verifyRoles,omitempty"`
	WelcomeTitle          string       `json:"welcomeTitle,omitempty"`
	WelcomeDescription    string       `json:"welcomeDescription,omitempty"`
	WelcomeMode           WelcomeMode  `json:"welcomeMode,omitempty"`
}

// VerifyRole is a role set assigned together by one verification button.
type VerifyRole struct {
	RoleIDs []string `json:"roleIds"`
	Label   string   `json:"label"`
}

// SameRoles reports whether both entries hold the same roles, ignoring order.
func (v VerifyRole) SameRoles(other VerifyRole) bool {
	if len(v.RoleIDs) != len(other.RoleIDs) {
		return false
	}
	set := make(map[string]struct{}, len(v.RoleIDs))
	for _, id := range v.RoleIDs {
		set[id] = struct{}{}
	}
	for _, id := range other.RoleIDs {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func (c GuildConfig) EffectiveWelcomeMode() WelcomeMode {
	if c.WelcomeMode == WelcomeText {
		return WelcomeText
	}
	return WelcomeEmbed
}

func (c GuildConfig) clone() GuildConfig {
	out := c
	if c.VerifyRoles != nil {
		out.VerifyRoles = make([]VerifyRole, len(c.VerifyRoles))
		for i, entry := range c.VerifyRoles {
			out.VerifyRoles[i] = VerifyRole{
				RoleIDs: append([]string(nil), entry.RoleIDs...),
				Label:   entry.Label,
			}
		}
	}
	return out
}

// GuildPatch lists the scalar fields to overwrite; nil fields are left as is.
// An empty string clears the field.
type GuildPatch struct {
	VerificationChannelID *string
	StaffChannelID        *string
	RoleAID               *string
	RoleBID               *string
	NotVerifiedRoleID     *string
	ModRoleID             *string
	WelcomeTitle          *string
	WelcomeDescription    *string
	WelcomeMode           *WelcomeMode
}

func (p GuildPatch) apply(cfg *GuildConfig) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&cfg.VerificationChannelID, p.VerificationChannelID)
	set(&cfg.StaffChannelID, p.StaffChannelID)
	set(&cfg.RoleAID, p.RoleAID)
	set(&cfg.RoleBID, p.RoleBID)
	set(&cfg.NotVerifiedRoleID, p.NotVerifiedRoleID)
	set(&cfg.ModRoleID, p.ModRoleID)
	set(&cfg.WelcomeTitle, p.WelcomeTitle)
	set(&cfg.WelcomeDescription, p.WelcomeDescription)
	if p.WelcomeMode != nil {
		cfg.WelcomeMode = *p.WelcomeMode
	}
}

// String returns a pointer to value, for building patches.
func String(value string) *string {
	return &value
}
