package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seamarks/helmsman/internal/metrics"
	"github.com/seamarks/helmsman/internal/trigger"
)

const signatureHeader = "X-Hub-Signature-256"

// maxWebhookBody caps inbound payloads at 1 MiB.
const maxWebhookBody = 1 << 20

type webhookHandler struct {
	deps    Deps
	limiter *rate.Limiter
}

func newWebhookHandler(deps Deps) *webhookHandler {
	rps := deps.WebhookRateRPS
	if rps <= 0 {
		rps = 5
	}
	burst := deps.WebhookBurst
	if burst <= 0 {
		burst = 10
	}
	return &webhookHandler{deps: deps, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// handle verifies the signature over the raw body, then dispatches the
// named workflow with the JSON body as its context payload.
func (h *webhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if !h.limiter.Allow() {
		metrics.WebhookRequests.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("bad_body").Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.deps.WebhookSecret != "" {
		sig := r.Header.Get(signatureHeader)
		if sig == "" {
			metrics.WebhookRequests.WithLabelValues("unsigned").Inc()
			writeError(w, http.StatusUnauthorized, "missing signature")
			return
		}
		if !verifySignature(h.deps.WebhookSecret, body, sig) {
			metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
			h.deps.Logger.Warn("webhook signature mismatch", zap.String("workflow", name))
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	payload := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			metrics.WebhookRequests.WithLabelValues("bad_body").Inc()
			writeError(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}
	}

	run, err := h.deps.Dispatcher.Dispatch(r.Context(), trigger.SourceWebhook, name, payload)
	switch {
	case errors.Is(err, trigger.ErrUnknownWorkflow):
		metrics.WebhookRequests.WithLabelValues("unknown").Inc()
		writeError(w, http.StatusNotFound, "unknown workflow")
		return
	case errors.Is(err, trigger.ErrWorkflowDisabled):
		metrics.WebhookRequests.WithLabelValues("disabled").Inc()
		writeError(w, http.StatusConflict, "workflow disabled")
		return
	case err != nil:
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// verifySignature checks a "sha256=<hex>" header in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
