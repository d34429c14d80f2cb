package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"complyline/internal/engine"
	"complyline/internal/repo"
)

// esignEvent is the envelope-completed notification the provider posts when
// a dispatched report is signed.
type esignEvent struct {
	Event string `json:"event"`
	Data  struct {
		EnvelopeID string `json:"envelopeId"`
	} `json:"data"`
	GeneratedDateTime string `json:"generatedDateTime,omitempty"`
}

// verifySignature checks the provider's HMAC header against the raw body.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		// No secret configured means verification is disabled.
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func registerWebhooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "esign-webhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/esign",
		Summary:     "Provider envelope event notification",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Signature string     `header:"X-DocuSign-Signature-1"`
		RawBody   []byte
		Body      esignEvent `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		secret := ""
		if e.Config != nil {
			secret = e.Config.Docusign.WebhookSecret
		}
		if !verifySignature(secret, input.RawBody, input.Signature) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch", nil)
		}
		if input.Body.Event != "envelope-completed" {
			return &struct {
				Body map[string]string `json:"body"`
			}{Body: map[string]string{"status": "ignored"}}, nil
		}
		if input.Body.Data.EnvelopeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "envelopeId is required", nil)
		}
		err := e.MarkEnvelopeSigned(ctx, input.Body.Data.EnvelopeID, input.Body.GeneratedDateTime)
		if err != nil {
			// Completion events arrive for envelopes we did not dispatch.
			if errors.Is(err, repo.ErrNotFound) {
				return &struct {
					Body map[string]string `json:"body"`
				}{Body: map[string]string{"status": "ignored"}}, nil
			}
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})
}
