package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type SendMessageArgs struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Text        string    `json:"text"`
}

func (SendMessageArgs) Kind() string { return "send_message" }

// SendMessageWorker POSTs the message to the chat-transport webhook. The
// transport owns chat-id resolution and formatting; delivery retries are
// river's problem, never the committing request's.
type SendMessageWorker struct {
	river.WorkerDefaults[SendMessageArgs]
	webhookURL string
	httpClient *http.Client
}

func NewSendMessageWorker(webhookURL string) *SendMessageWorker {
	return &SendMessageWorker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *SendMessageWorker) Work(ctx context.Context, job *river.Job[SendMessageArgs]) error {
	if w.webhookURL == "" {
		// No transport configured; drop instead of retrying forever.
		return nil
	}
	body, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling chat transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat transport returned status %d", resp.StatusCode)
	}
	return nil
}
