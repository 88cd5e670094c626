// Package prompts defines the outbound messages the workflow engine emits and
// the localized catalog that turns them into user-facing text.
//
// The engine never builds strings itself. It produces a Prompt naming a
// catalog key, substitutions, and a keyboard of label keys; a Renderer for
// the prompt's channel turns that into a chat message.
package prompts

import (
	"context"
	"fmt"
	"sync"
)

// Message keys.
const (
	KeyStart        = "start"
	KeyIdle         = "idle"
	KeyIdleHeadless = "idle_headless"
	KeyHelp         = "help"
	KeyUnknown      = "unknown"
	KeyDonateDesc   = "donate_desc"
	KeyProcessing   = "processing"

	KeyMergeInput    = "merge_input"
	KeyCompressInput = "compress_input"
	KeyConvertInput  = "convert_input"
	KeySplitInput    = "split_input"
	KeyDeleteInput   = "delete_input"

	KeyMergeQueue    = "merge_queue"
	KeyCompressQueue = "compress_queue"
	KeyConvertQueue  = "convert_queue"
	KeySplitQueue    = "split_queue"
	KeyDeleteQueue   = "delete_queue"
	KeyAvailable     = "available_range"
	KeySplitCall     = "split_call"

	KeyBigFile       = "big_file"
	KeyDownloadError = "download_error"
	KeyFuncFailed    = "func_failed"
	KeyNoFiles       = "no_files"
	KeyOneFile       = "one_file"
	KeyBadFormat     = "unsupported_format"
	KeyBadPattern    = "unsupported_pattern"
	KeyRangeExceed   = "unsupported_range_exceed"
	KeyNoSpace       = "no_space"

	// KeyDocument carries an artifact with no text of its own.
	KeyDocument = "document"

	KeyBroadcastCompose = "broadcast_compose"
	KeyBroadcastReady   = "broadcast_ready"
	KeyBroadcastDraft   = "broadcast_draft"
	KeyBroadcastAction  = "broadcast_action"
	KeyBroadcastDeleted = "broadcast_deleted"
	KeyBroadcastSent    = "broadcast_sent"
	// KeyBroadcast is the announcement as recipients see it.
	KeyBroadcast = "broadcast"
)

// Button label keys.
const (
	LabelCompress   = "compress"
	LabelMerge      = "merge"
	LabelSplit      = "split"
	LabelDelete     = "delete"
	LabelConvertPPT = "convert_ppt"
	LabelConvertImg = "convert_img"
	LabelConvertDoc = "convert_doc"
	LabelCancel     = "cancel"
	LabelDonate     = "donate"
	LabelGoCompress = "go_compress"
	LabelGoMerge    = "go_merge"
	LabelGoConvert  = "go_convert"
	LabelSplitOne   = "split_one"
	LabelSplitMany  = "split_many"
	LabelDonateLink = "donate_link"

	LabelBroadcastPreview = "broadcast_preview"
	LabelBroadcastSend    = "broadcast_send"
	LabelBroadcastDelete  = "broadcast_delete"
)

// Link is an inline URL button.
type Link struct {
	LabelKey string
	URL      string
}

// Prompt is one outbound message for a user.
type Prompt struct {
	Channel    string
	UserID     string
	Locale     string
	Key        string
	Args       map[string]string
	Keyboard   [][]string
	Attachment string
	Link       *Link
}

// Rendered is a Prompt after localization.
type Rendered struct {
	UserID     string     `json:"user_id"`
	Key        string     `json:"key"`
	Text       string     `json:"text"`
	Keyboard   [][]string `json:"keyboard,omitempty"`
	Attachment string     `json:"attachment,omitempty"`
	LinkLabel  string     `json:"link_label,omitempty"`
	LinkURL    string     `json:"link_url,omitempty"`
}

// Renderer delivers prompts to one transport.
type Renderer interface {
	Render(ctx context.Context, p Prompt) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, p Prompt) error

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, p Prompt) error { return f(ctx, p) }

// Mux routes prompts to the renderer registered for their channel.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]Renderer
}

// NewMux constructs an empty mux.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]Renderer)}
}

// Handle registers r for channel, replacing any previous renderer.
func (m *Mux) Handle(channel string, r Renderer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[channel] = r
}

// Render implements Renderer.
func (m *Mux) Render(ctx context.Context, p Prompt) error {
	m.mu.RLock()
	r, ok := m.routes[p.Channel]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no renderer for channel %q", p.Channel)
	}
	return r.Render(ctx, p)
}

// IdleKeyboard is the main menu. The donate row is shown once after a
// successful job.
func IdleKeyboard(withDonate bool) [][]string {
	rows := [][]string{
		{LabelCompress, LabelMerge, LabelSplit},
		{LabelDelete},
		{LabelConvertPPT, LabelConvertImg, LabelConvertDoc},
	}
	if withDonate {
		rows = append(rows, []string{LabelDonate})
	}
	return rows
}

// CollectKeyboard offers the "go" button of a collecting flow plus cancel.
func CollectKeyboard(goLabel string) [][]string {
	return [][]string{{goLabel, LabelCancel}}
}

// CancelKeyboard offers only cancel.
func CancelKeyboard() [][]string {
	return [][]string{{LabelCancel}}
}

// BroadcastReadyKeyboard is shown while an announcement is being written.
func BroadcastReadyKeyboard() [][]string {
	return [][]string{{LabelBroadcastPreview}, {LabelCancel}}
}

// BroadcastActionKeyboard is shown under the preview of an announcement.
func BroadcastActionKeyboard() [][]string {
	return [][]string{{LabelBroadcastSend, LabelBroadcastDelete, LabelCancel}}
}

// SplitModeKeyboard offers the split output choices.
func SplitModeKeyboard() [][]string {
	return [][]string{{LabelSplitOne}, {LabelSplitMany}, {LabelCancel}}
}
