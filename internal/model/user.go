package model

import (
	"github.com/google/uuid"
)

// Role represents a user's permission level
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// User is a pageable person with per-channel contact identifiers.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	SlackID    string `json:"slack_id,omitempty"`
	DiscordID  string `json:"discord_id,omitempty"`
	TelegramID string `json:"telegram_id,omitempty"`
	WhatsAppID string `json:"whatsapp_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Role       Role   `json:"role"`
}

// NewUser creates a user with no contact identifiers.
func NewUser(username, email string, role Role) *User {
	return &User{
		ID:       uuid.New().String(),
		Username: username,
		Email:    email,
		Role:     role,
	}
}

// SetPhone validates and sets the user's phone number.
func (u *User) SetPhone(number string) error {
	if !validE164(number) {
		return ErrInvalidPhoneFormat
	}
	u.Phone = number
	return nil
}

// CanBeOnCall reports whether the user has any contact identifier a
// notifier could reach.
func (u *User) CanBeOnCall() bool {
	return u.Phone != "" || u.SlackID != "" || u.DiscordID != "" ||
		u.TelegramID != "" || u.WhatsAppID != ""
}

// validE164 checks the E.164 phone format, e.g. "+41791234567".
func validE164(number string) bool {
	if len(number) < 8 || len(number) > 16 {
		return false
	}
	if number[0] != '+' {
		return false
	}
	for _, c := range number[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Team is a named group of users, usable as an escalation target.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// NewTeam creates a team with at least one member.
func NewTeam(name string, members []string) (*Team, error) {
	if len(members) == 0 {
		return nil, ErrTeamRequiresMember
	}
	return &Team{
		ID:      uuid.New().String(),
		Name:    name,
		Members: members,
	}, nil
}
