package prompts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"pdfile/internal/fileutil"
)

// Mailbox is a Renderer that stores localized prompts per user until they
// are drained. It backs the local channel used by the control socket.
type Mailbox struct {
	catalog *Catalog
	outbox  string

	mu    sync.Mutex
	boxes map[string][]Rendered
}

// NewMailbox constructs a mailbox that localizes through catalog.
func NewMailbox(catalog *Catalog) *Mailbox {
	return &Mailbox{catalog: catalog, boxes: make(map[string][]Rendered)}
}

// KeepAttachments copies every attachment into dir before it is stored.
// Artifacts live in staging only until the session returns to idle, so
// callers that read attachments after Drain need their own copy.
func (m *Mailbox) KeepAttachments(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = dir
}

// Render implements Renderer.
func (m *Mailbox) Render(_ context.Context, p Prompt) error {
	rendered := m.catalog.Render(p)
	m.mu.Lock()
	outbox := m.outbox
	m.mu.Unlock()

	if rendered.Attachment != "" && outbox != "" {
		kept, err := keep(rendered.Attachment, outbox)
		if err != nil {
			return err
		}
		rendered.Attachment = kept
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes[p.UserID] = append(m.boxes[p.UserID], rendered)
	return nil
}

func keep(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create outbox: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer in.Close()

	out, err := fileutil.CreateUnique(dir, filepath.Base(src))
	if err != nil {
		return "", fmt.Errorf("create outbox copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("copy attachment: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close outbox copy: %w", err)
	}
	return out.Name(), nil
}

// Drain returns and forgets the prompts stored for userID.
func (m *Mailbox) Drain(userID string) []Rendered {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.boxes[userID]
	delete(m.boxes, userID)
	return out
}
