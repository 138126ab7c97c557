package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/escrow-market/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorResponseMapping(t *testing.T) {
	h := NewEscrowHandler(nil, zap.NewNop())

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"escrow not found", models.ErrEscrowNotFound, fiber.StatusNotFound, "escrow not found"},
		{"transaction not found", models.ErrTransactionNotFound, fiber.StatusNotFound, "transaction not found"},
		{"invalid transition", models.TransitionError(models.EscrowStatusReleased, models.EscrowStatusDisputed), fiber.StatusConflict, "released -> disputed"},
		{"signature mismatch", models.ErrSignatureMismatch, fiber.StatusForbidden, "signature mismatch"},
		{"ledger unavailable", models.ErrLedgerUnavailable, fiber.StatusServiceUnavailable, "ledger unavailable"},
		{"validation failure", fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput), fiber.StatusBadRequest, "invalid input"},
		{"duplicate escrow", models.ErrEscrowExists, fiber.StatusBadRequest, "already exists"},
		{"amount exceeds balance", models.ErrAmountExceedsBalance, fiber.StatusBadRequest, "exceeds escrow balance"},
		// Infrastructure failures must not surface as client errors or
		// leak internals.
		{"database failure", errors.New("pgx: connection closed"), fiber.StatusInternalServerError, "internal error"},
		{"context cancellation", context.Canceled, fiber.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/t", func(c *fiber.Ctx) error {
				return h.errorResponse(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/t", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.body)
			if tt.status == fiber.StatusInternalServerError {
				assert.NotContains(t, string(body), tt.err.Error())
			}
		})
	}
}
