package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/signportal/signportal/internal/config"
)

// Content-refresh webhooks: an external system (a CMS save hook, a deploy
// pipeline) POSTs to /webhook/{name} to invalidate a source's cache and
// push the reloaded content to every connected session. Each webhook is
// declared in config with a shared secret.

// WebhookResponse is the JSON response from a webhook call.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// webhookAuditEntry is one audit log line per webhook invocation.
type webhookAuditEntry struct {
	Timestamp   time.Time              `json:"timestamp"`
	WebhookName string                 `json:"webhook_name"`
	Source      string                 `json:"source,omitempty"`
	Operator    string                 `json:"operator,omitempty"`
	RemoteAddr  string                 `json:"remote_addr"`
	UserAgent   string                 `json:"user_agent"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// serveWebhook handles POST /webhook/{name}.
func (s *Server) serveWebhook(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if name == "" {
		writeWebhookError(w, http.StatusBadRequest, "webhook name required")
		return
	}

	if r.Method != http.MethodPost {
		writeWebhookError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	hook := s.config.Webhooks[name]
	if hook == nil {
		writeWebhookError(w, http.StatusNotFound, "webhook not found: "+name)
		return
	}

	secret := hook.GetSecret()
	if secret == "" || !validateWebhookSecret(r, secret) {
		s.auditWebhook(name, hook.Source, r, false, "invalid or missing secret", nil)
		writeWebhookError(w, http.StatusUnauthorized, "invalid or missing secret")
		return
	}

	params, err := parseWebhookBody(r)
	if err != nil {
		s.auditWebhook(name, hook.Source, r, false, "invalid request body: "+err.Error(), nil)
		writeWebhookError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if s.sources != nil {
		if hook.Source == "" {
			s.sources.InvalidateAllCaches()
		} else {
			s.sources.InvalidateCache(hook.Source)
		}
	}
	s.BroadcastReload(hook.Source)

	s.auditWebhook(name, hook.Source, r, true, "", params)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(WebhookResponse{
		Success: true,
		Message: "content refreshed",
	})
}

// validateWebhookSecret checks the X-Webhook-Secret header first, then the
// ?secret= query parameter, with a constant-time comparison.
func validateWebhookSecret(r *http.Request, expectedSecret string) bool {
	provided := r.Header.Get("X-Webhook-Secret")
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}
	if provided == "" {
		return false
	}
	return secureCompare(provided, expectedSecret)
}

// parseWebhookBody reads the optional JSON body. Webhook payloads are kept
// only for the audit trail; they carry no behavior.
func parseWebhookBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// auditWebhook writes one JSON audit line per invocation. Payloads are
// only included on failure, sanitized.
func (s *Server) auditWebhook(name, sourceName string, r *http.Request, success bool, errMsg string, params map[string]interface{}) {
	entry := webhookAuditEntry{
		Timestamp:   time.Now().UTC(),
		WebhookName: name,
		Source:      sourceName,
		Operator:    config.GetOperator(),
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.Header.Get("User-Agent"),
		Success:     success,
		Error:       errMsg,
	}
	if !success {
		entry.Params = sanitizeParams(params)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal audit entry: %v", err)
		return
	}
	log.Printf("[Webhook] %s", data)
}

// sanitizeParams removes potentially sensitive parameter values for logging.
func sanitizeParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}

	sanitized := make(map[string]interface{})
	sensitiveKeys := []string{"password", "secret", "token", "key", "auth", "credential"}

	for k, v := range params {
		keyLower := strings.ToLower(k)
		isSensitive := false
		for _, sensitive := range sensitiveKeys {
			if strings.Contains(keyLower, sensitive) {
				isSensitive = true
				break
			}
		}

		if isSensitive {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}

	return sanitized
}

func writeWebhookError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(WebhookResponse{
		Success: false,
		Error:   message,
	})
}
