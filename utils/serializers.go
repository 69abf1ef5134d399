package utils

import (
	"time"

	"stepschool_go/models"
)

// Compact representations used across APIs
type CampusShort struct {
	ID   uint   `json:"id"`
	Name string `json:"name,omitempty"`
}

type UserDTO struct {
	ID        uint         `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Username  string       `json:"username"`
	Email     string       `json:"email,omitempty"`
	Role      string       `json:"role"`
	Status    string       `json:"status"`
	CampusID  *uint        `json:"campus_id,omitempty"`
	ClientID  *uint        `json:"client_id,omitempty"`
	Campus    *CampusShort `json:"campus,omitempty"`
}

// ToUserDTO maps a user to the public DTO. Pass the campus when the caller has it loaded.
func ToUserDTO(u models.User, campus *models.Campus) UserDTO {
	dto := UserDTO{
		ID:        u.ID,
		CreatedAt: u.CreatedAt,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		CampusID:  u.CampusID,
		ClientID:  u.ClientID,
	}
	if campus != nil && campus.ID != 0 {
		dto.Campus = &CampusShort{ID: campus.ID, Name: campus.Name}
	}
	return dto
}

// ToUserDTOs maps a slice of users without campus details.
func ToUserDTOs(users []models.User) []UserDTO {
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, ToUserDTO(u, nil))
	}
	return out
}
