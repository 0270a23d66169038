package models

// Member is a chat-platform user resolved inside a guild.
type Member struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	RoleIDs     []string `json:"role_ids"`
}

// Mention renders the platform mention markup for the member.
func (m Member) Mention() string {
	return "<@" + m.ID + ">"
}

// HasRole reports whether the member currently holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role is a guild role.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Actor is the user who issued a command.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
