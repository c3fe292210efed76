package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/launchkit-backend/api/responses"
	stripewebhook "github.com/angelmondragon/launchkit-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/launchkit-backend/pkg/errors"
	"github.com/angelmondragon/launchkit-backend/pkg/logger"
	"github.com/angelmondragon/launchkit-backend/pkg/types"
)

const defaultMaxBodyBytes int64 = 64 << 10

// StripeWebhookProcessor runs one signed delivery through the processing pipeline.
type StripeWebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (stripewebhook.AckStatus, error)
}

// StripeWebhook handles Stripe deliveries. Verification failures are 400, transient store
// failures 500, and every recorded outcome is acknowledged with 200.
func StripeWebhook(proc StripeWebhookProcessor, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if proc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		status, err := proc.Handle(ctx, payload, r.Header.Get(stripewebhook.SignatureHeader))
		if err != nil {
			if stripewebhook.IsVerificationError(err) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature"))
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteAck(w, http.StatusOK, types.WebhookAck{Received: true, Status: string(status)})
	}
}
