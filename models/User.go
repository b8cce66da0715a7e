package models

import (
	"gorm.io/gorm"
)

// User is the local profile row for an authenticated principal. The
// identity gate owns credentials and session issuance; this table only
// carries what thread summaries and message lists need to display the
// counterparty.
type User struct {
	gorm.Model
	DisplayName string `json:"displayName" gorm:"size:128"`
	AvatarURL   string `json:"avatarURL" gorm:"size:512"`
	Party       string `json:"party" gorm:"size:20;default:individual"` // individual, organization
	Role        string `json:"role" gorm:"type:varchar(20);default:user;index"`
}
