// Package secrets contiene el receptor de notificaciones de cambio del
// secret store.
package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	httperrors "github.com/dropDatabas3/journal-auth/internal/http/errors"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
	"github.com/dropDatabas3/journal-auth/internal/secretsync"
)

// SignatureHeader lleva "sha256=<hex>" del HMAC-SHA256 del body.
const SignatureHeader = "X-Secret-Signature"

const maxWebhookBody = 16 << 10

// Queue recibe los eventos validados (SecretSync.Enqueue).
type Queue interface {
	Enqueue(ev secretsync.Event) bool
}

type WebhookController struct {
	queue  Queue
	secret []byte
	now    func() time.Time
}

func NewWebhookController(queue Queue, secret string) *WebhookController {
	return &WebhookController{queue: queue, secret: []byte(secret), now: time.Now}
}

// Receive maneja POST /internal/secrets/webhook. Responde 202 apenas encola;
// la reconciliación corre en SecretSync.Run.
func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op("WebhookController.Receive"))
	if len(c.secret) == 0 {
		httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail("webhook disabled"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("body too large or unreadable"))
		return
	}
	if !ValidSignature(c.secret, body, r.Header.Get(SignatureHeader)) {
		log.Warn("firma de webhook inválida")
		httperrors.WriteError(w, httperrors.ErrUnauthenticated)
		return
	}

	var ev secretsync.Event
	if len(body) > 0 {
		if err := json.Unmarshal(body, &ev); err != nil {
			httperrors.WriteError(w, httperrors.ErrInvalidJSON)
			return
		}
	}
	if ev.Kind == "" {
		ev.Kind = "written"
	}
	if ev.At.IsZero() {
		ev.At = c.now().UTC()
	}
	if ev.Source == "" {
		ev.Source = "webhook"
	}
	if !c.queue.Enqueue(ev) {
		// El pull periódico lo termina cubriendo.
		log.Warn("cola de eventos llena, evento descartado", logger.String("kind", ev.Kind), logger.KID(ev.KID))
	}
	w.WriteHeader(http.StatusAccepted)
}

// Sign calcula el valor del header para body (lo usan los tests y el emisor).
func Sign(secret, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return "sha256=" + hex.EncodeToString(m.Sum(nil))
}

// ValidSignature compara en tiempo constante. Acepta el hex con o sin prefijo.
func ValidSignature(secret, body []byte, header string) bool {
	got := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	raw, err := hex.DecodeString(got)
	if err != nil || len(raw) != sha256.Size {
		return false
	}
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return hmac.Equal(raw, m.Sum(nil))
}
