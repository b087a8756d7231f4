package models

import "time"

type Label struct {
	ID          string    `json:"id"`
	Key         string    `json:"key" validate:"required"`
	Value       string    `json:"value"`
	Category    string    `json:"category,omitempty"`
	Color       string    `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	UsageCount  int       `json:"usage_count,omitempty"`
	CreatedBy   *Actor    `json:"created_by,omitempty"`
	UpdatedBy   *Actor    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MailSettings configures the SMTP relay used by email channels.
type MailSettings struct {
	ID            string     `json:"id"`
	SMTPHost      string     `json:"smtp_host" validate:"required,hostname|ip"`
	SMTPPort      int        `json:"smtp_port" validate:"required,gte=1,lte=65535"`
	Username      string     `json:"username,omitempty"`
	Password      string     `json:"password,omitempty"`
	SenderName    string     `json:"sender_name,omitempty"`
	SenderEmail   string     `json:"sender_email" validate:"required,email"`
	ReplyTo       string     `json:"reply_to,omitempty" validate:"omitempty,email"`
	Encryption    string     `json:"encryption,omitempty" validate:"omitempty,oneof=none tls ssl"`
	TestRecipient string     `json:"test_recipient,omitempty" validate:"omitempty,email"`
	IsEnabled     bool       `json:"is_enabled"`
	LastTestedAt  *time.Time `json:"last_tested_at,omitempty"`
	CreatedBy     *Actor     `json:"created_by,omitempty"`
	UpdatedBy     *Actor     `json:"updated_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type AuthSettings struct {
	ID               string     `json:"id"`
	Provider         string     `json:"provider" validate:"required"`
	OIDCEnabled      bool       `json:"oidc_enabled"`
	Realm            string     `json:"realm,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	ClientSecretHint string     `json:"client_secret_hint,omitempty"`
	AuthURL          string     `json:"auth_url,omitempty" validate:"omitempty,url"`
	TokenURL         string     `json:"token_url,omitempty" validate:"omitempty,url"`
	UserinfoURL      string     `json:"userinfo_url,omitempty" validate:"omitempty,url"`
	RedirectURI      string     `json:"redirect_uri,omitempty" validate:"omitempty,url"`
	LogoutURL        string     `json:"logout_url,omitempty" validate:"omitempty,url"`
	Scopes           []string   `json:"scopes,omitempty"`
	UserSync         bool       `json:"user_sync"`
	LastTestedAt     *time.Time `json:"last_tested_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Profile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username" validate:"required"`
	DisplayName string     `json:"display_name,omitempty"`
	Email       string     `json:"email,omitempty" validate:"omitempty,email"`
	Role        string     `json:"role,omitempty"`
	Status      string     `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	Language    string     `json:"language,omitempty"`
	Timezone    string     `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Teams       []Team     `json:"teams,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Preference struct {
	ID                      string          `json:"id"`
	UserID                  string          `json:"user_id" validate:"required"`
	Theme                   string          `json:"theme,omitempty" validate:"omitempty,oneof=light dark system"`
	DefaultPage             string          `json:"default_page,omitempty"`
	Language                string          `json:"language,omitempty"`
	Timezone                string          `json:"timezone,omitempty" validate:"omitempty,timezone"`
	NotificationPreferences map[string]bool `json:"notification_preferences,omitempty"`
	DisplayOptions          map[string]bool `json:"display_options,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}
