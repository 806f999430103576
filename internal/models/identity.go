package models

import "time"

// PlatformIdentity maps a chat-platform user (Discord, Telegram, linked Google
// account) to a tenant. Stored durably so duplicate webhook deliveries and
// multi-instance deployments resolve the same tenant every time.
type PlatformIdentity struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	Provider       string    `gorm:"size:16;not null;uniqueIndex:idx_identity_provider_user,priority:1" json:"provider"`
	ProviderUserID string    `gorm:"size:128;not null;uniqueIndex:idx_identity_provider_user,priority:2" json:"provider_user_id"`
	TenantID       string    `gorm:"size:64;not null;index" json:"tenant_id"`
	Username       string    `gorm:"size:128" json:"username,omitempty"`
	Email          string    `gorm:"size:255" json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (PlatformIdentity) TableName() string {
	return "platform_identities"
}
