package domain

import "time"

// UserRole distinguishes the two sides of the marketplace.
type UserRole string

const (
	RoleSeeker   UserRole = "seeker"
	RoleEmployer UserRole = "employer"
)

// User is the directory record for a platform account. Messaging only reads
// these; account lifecycle is owned by the user service.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	Company   string    `json:"company,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserSummary is the profile slice embedded in conversation rows.
type UserSummary struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Role    UserRole `json:"role"`
	Company string   `json:"company,omitempty"`
}

// Summary trims a directory record down to what the inbox shows.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Role: u.Role, Company: u.Company}
}

// Conversation is the per-counterpart inbox row. It is derived from the
// message store on every list call and never persisted.
type Conversation struct {
	Counterpart UserSummary `json:"counterpart"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int64       `json:"unreadCount"`
}
