package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"twmarket_backend/models"
)

// NotifyTimeout bounds the webhook delivery attempt
const NotifyTimeout = 5 * time.Second

// Notifier delivers job outcomes to an operator webhook (Telegram bot relay,
// Slack hook, anything accepting JSON). Delivery is fire-and-forget: a dead
// webhook never fails or rolls back the job result it reports on.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a notifier; an empty URL disables delivery.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: NotifyTimeout},
	}
}

type payload struct {
	JobSignature string `json:"job_signature"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	FinishedAt   string `json:"finished_at"`
}

// PublishJobEntry implements jobguard.Publisher.
func (n *Notifier) PublishJobEntry(entry models.JobHistoryEntry) {
	if n.webhookURL == "" {
		return
	}
	go n.deliver(entry)
}

func (n *Notifier) deliver(entry models.JobHistoryEntry) {
	body, err := json.Marshal(payload{
		JobSignature: entry.JobSignature,
		Status:       entry.Status,
		Summary:      entry.Summary,
		ErrorDetail:  entry.ErrorDetail,
		FinishedAt:   entry.FinishedAt.Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Warning: could not encode notification for %s: %v", entry.JobSignature, err)
		return
	}

	resp, err := n.httpClient.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Warning: notification delivery failed for %s: %v", entry.JobSignature, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		log.Printf("Warning: notification webhook returned %d for %s", resp.StatusCode, entry.JobSignature)
	}
}
