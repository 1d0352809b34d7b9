package models

import "time"

// CredentialProvider identifies the third-party API a credential unlocks.
type CredentialProvider string

const (
	CredentialProviderOpenAI    CredentialProvider = "openai"
	CredentialProviderAnthropic CredentialProvider = "anthropic"
	CredentialProviderGemini    CredentialProvider = "gemini"
)

// Credential is an API key stored on behalf of a user.
type Credential struct {
	ID        string             `json:"id"`
	Owner     string             `json:"owner"      validate:"required"`
	Name      string             `json:"name"       validate:"required,min=1"`
	Provider  CredentialProvider `json:"provider"   validate:"required,oneof=openai anthropic gemini"`
	Value     string             `json:"-"          validate:"required"`
	CreatedAt time.Time          `json:"created_at"`
}
