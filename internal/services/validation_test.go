package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/botmeter/backend/internal/models"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid usage event", func(t *testing.T) {
		event := models.UsageEvent{
			OrgID:        "org-1",
			Channel:      "web",
			MessageID:    "msg-1",
			InputTokens:  120,
			OutputTokens: 480,
		}

		err := vh.ValidateStruct(&event)
		assert.NoError(t, err)
	})

	t.Run("missing required fields", func(t *testing.T) {
		event := models.UsageEvent{
			Channel: "web",
		}

		err := vh.ValidateStruct(&event)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2) // OrgID, MessageID
	})

	t.Run("invalid channel", func(t *testing.T) {
		event := models.UsageEvent{
			OrgID:     "org-1",
			Channel:   "carrier-pigeon",
			MessageID: "msg-1",
		}

		err := vh.ValidateStruct(&event)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Channel", validationErrors[0].Field())
		assert.Equal(t, "oneof", validationErrors[0].Tag())
	})

	t.Run("negative token counts", func(t *testing.T) {
		event := models.UsageEvent{
			OrgID:       "org-1",
			Channel:     "whatsapp",
			MessageID:   "msg-1",
			InputTokens: -5,
		}

		err := vh.ValidateStruct(&event)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "InputTokens", validationErrors[0].Field())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		event := models.UsageEvent{
			Channel: "carrier-pigeon",
		}

		validationErr := vh.ValidateStruct(&event)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.NotNil(t, response.Details)
		assert.Contains(t, response.Details, "OrgID")
		assert.Contains(t, response.Details, "MessageID")
		assert.Contains(t, response.Details, "Channel")
	})

	t.Run("insufficient credits error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Insufficient credits", http.StatusPaymentRequired, nil)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Insufficient credits", response.Error)
	})
}

func TestNewValidationHelper(t *testing.T) {
	vh := NewValidationHelper()
	assert.NotNil(t, vh)
	assert.NotNil(t, vh.validator)
}
