// Package docusign is a thin client for the e-signature provider endpoints
// the compliance pipeline needs: OAuth, envelope listing, document download
// and envelope creation.
package docusign

import (
	"encoding/json"
	"fmt"
)

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("docusign: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// TokenPair is the result of an OAuth code exchange or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UserInfo is the subset of the provider's /oauth/userinfo reply we keep.
type UserInfo struct {
	Sub      string `json:"sub"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Accounts []struct {
		AccountID   string `json:"account_id"`
		AccountName string `json:"account_name"`
		BaseURI     string `json:"base_uri"`
		IsDefault   bool   `json:"is_default,string"`
	} `json:"accounts"`
}

// DocumentTypeField is the text custom field that marks envelopes this
// system created itself.
const DocumentTypeField = "DOCUMENT_TYPE"

// Envelope is one entry from the account envelope listing.
type Envelope struct {
	EnvelopeID     string          `json:"envelopeId"`
	Status         string          `json:"status"`
	EmailSubject   string          `json:"emailSubject"`
	SentDateTime   string          `json:"sentDateTime"`
	CompletedAt    string          `json:"completedDateTime"`
	SenderName     string          `json:"-"`
	SenderEmail    string          `json:"-"`
	AttachmentsURI string          `json:"attachmentsUri"`
	Raw            json.RawMessage `json:"-"`
}

// CustomField returns the named text custom field from the raw listing
// payload, or "" when absent.
func (e Envelope) CustomField(name string) string {
	var cf struct {
		CustomFields struct {
			TextCustomFields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"textCustomFields"`
		} `json:"customFields"`
	}
	if err := json.Unmarshal(e.Raw, &cf); err != nil {
		return ""
	}
	for _, f := range cf.CustomFields.TextCustomFields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

type envelopeListing struct {
	Envelopes []json.RawMessage `json:"envelopes"`
}

type envelopeSender struct {
	Sender struct {
		UserName string `json:"userName"`
		Email    string `json:"email"`
	} `json:"sender"`
}
