// Package notify posts upload and download events to a Discord
// webhook. Delivery is fire-and-forget: events are queued onto a
// buffered channel and a background worker drains it, so a slow or
// failing webhook never touches the request path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	colorGreen = 0x00ff00
	colorBlue  = 0x0099ff
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// FileEvent carries the details of an upload or download.
type FileEvent struct {
	ID            string
	Filename      string
	Size          int64
	URL           string
	ExpiresAt     time.Time
	IPAddress     string
	DownloadCount int
}

// Notifier queues Discord webhook messages for background delivery.
// A Notifier with an empty webhook URL discards everything.
type Notifier struct {
	webhookURL string
	client     *http.Client
	queue      chan message
	done       chan struct{}
}

// NewNotifier starts the delivery worker. Call Close to drain and stop.
func NewNotifier(webhookURL string) *Notifier {
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan message, 64),
		done:       make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		if n.webhookURL == "" {
			continue
		}
		if err := n.post(msg); err != nil {
			slog.Error("discord notification failed", "error", err)
		}
	}
}

func (n *Notifier) post(msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// enqueue drops the message when the queue is full rather than block
// the caller.
func (n *Notifier) enqueue(msg message) {
	select {
	case n.queue <- msg:
	default:
		slog.Warn("discord notification queue full, dropping event")
	}
}

// NotifyUpload queues an upload event.
func (n *Notifier) NotifyUpload(ev FileEvent) {
	n.enqueue(message{
		Content: "New file uploaded",
		Embeds: []embed{{
			Title:       "File Uploaded",
			Description: "A new file has been uploaded",
			Color:       colorGreen,
			Fields: []embedField{
				{Name: "Filename", Value: ev.Filename, Inline: true},
				{Name: "File ID", Value: ev.ID, Inline: true},
				{Name: "Size", Value: formatMB(ev.Size), Inline: true},
				{Name: "URL", Value: ev.URL},
				{Name: "Expires At", Value: ev.ExpiresAt.UTC().Format(time.RFC3339), Inline: true},
				{Name: "IP Address", Value: ev.IPAddress, Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

// NotifyDownload queues a download event.
func (n *Notifier) NotifyDownload(ev FileEvent) {
	n.enqueue(message{
		Content: "File downloaded",
		Embeds: []embed{{
			Title:       "File Downloaded",
			Description: "A file has been downloaded",
			Color:       colorBlue,
			Fields: []embedField{
				{Name: "Filename", Value: ev.Filename, Inline: true},
				{Name: "File ID", Value: ev.ID, Inline: true},
				{Name: "Size", Value: formatMB(ev.Size), Inline: true},
				{Name: "URL", Value: ev.URL},
				{Name: "Download Count", Value: fmt.Sprintf("%d", ev.DownloadCount), Inline: true},
				{Name: "IP Address", Value: ev.IPAddress, Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

// Close stops accepting events and waits for the worker to drain.
func (n *Notifier) Close() {
	close(n.queue)
	<-n.done
}

func formatMB(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}
