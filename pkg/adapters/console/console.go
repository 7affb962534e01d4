// Package console drives the delivery pipeline from a terminal.
//
// A Console is both the Origin of a request and the Platform its response lives on:
// text responses are rendered as markdown with glamour, images are written to disk.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/texrender/pkg/delivery"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// Fixed identities of the terminal user and the input "message".
const (
	AuthorID  = "console"
	ChannelID = "console"
	SourceID  = "input"
)

// NewMarkdownRenderer returns a function that renders markdown using glamour.
func NewMarkdownRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return r.Render
}

// Console is a delivery.Origin and delivery.Platform backed by a terminal.
type Console struct {
	out      *termenv.Output
	dir      string
	markdown func(string) (string, error)

	mu       sync.Mutex
	next     int
	messages map[string]string // message ID -> saved image path, "" for text
	saved    []string
}

var (
	_ delivery.Origin   = (*Console)(nil)
	_ delivery.Platform = (*Console)(nil)
)

// Option configures the Console.
type Option func(*Console)

// WithOutputDir sets where images are written. Defaults to the working directory.
func WithOutputDir(dir string) Option {
	return func(c *Console) {
		c.dir = dir
	}
}

// WithMarkdown replaces the glamour renderer.
func WithMarkdown(render func(string) (string, error)) Option {
	return func(c *Console) {
		c.markdown = render
	}
}

// New creates a Console writing to w.
func New(w io.Writer, opts ...Option) *Console {
	c := &Console{
		out:      termenv.NewOutput(w),
		dir:      ".",
		messages: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.markdown == nil {
		c.markdown = NewMarkdownRenderer()
	}
	return c
}

func (c *Console) AuthorID() string  { return AuthorID }
func (c *Console) AuthorIsBot() bool { return false }
func (c *Console) ChannelID() string { return ChannelID }
func (c *Console) SourceID() string  { return SourceID }

// Saved lists the image files written so far.
func (c *Console) Saved() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.saved...)
}

func (c *Console) Send(ctx context.Context, msg delivery.Message) (string, error) {
	return c.post(msg, "")
}

func (c *Console) Reply(ctx context.Context, msg delivery.Message) (string, error) {
	return c.post(msg, "↳ ")
}

func (c *Console) Edit(ctx context.Context, channelID, messageID string, msg delivery.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[messageID]; !ok {
		return fmt.Errorf("edit %s: %w", messageID, domain.ErrNotFound)
	}
	return c.show(messageID, msg, "✎ ")
}

func (c *Console) Delete(ctx context.Context, channelID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if messageID == SourceID {
		c.status("#9ca3af", "(input consumed)")
		return nil
	}
	path, ok := c.messages[messageID]
	if !ok {
		return fmt.Errorf("delete %s: %w", messageID, domain.ErrNotFound)
	}
	delete(c.messages, messageID)
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	c.status("#f87171", fmt.Sprintf("✖ %s deleted", messageID))
	return nil
}

func (c *Console) React(ctx context.Context, channelID, messageID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[messageID]; !ok {
		return fmt.Errorf("react %s: %w", messageID, domain.ErrNotFound)
	}
	c.status("#9ca3af", fmt.Sprintf("%s react with %s to retract", messageID, emoji))
	return nil
}

func (c *Console) post(msg delivery.Message, prefix string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	id := fmt.Sprintf("msg-%d", c.next)
	c.messages[id] = ""
	if err := c.show(id, msg, prefix); err != nil {
		delete(c.messages, id)
		return "", err
	}
	return id, nil
}

// show prints msg and saves its attachment. The caller holds c.mu.
func (c *Console) show(id string, msg delivery.Message, prefix string) error {
	if msg.Attachment != nil {
		path := filepath.Join(c.dir, id+"-"+msg.Attachment.Name)
		if err := os.WriteFile(path, msg.Attachment.Data, 0644); err != nil {
			if os.IsPermission(err) {
				return fmt.Errorf("save %s: %w", path, domain.ErrForbidden)
			}
			return fmt.Errorf("save %s: %w", path, err)
		}
		c.messages[id] = path
		c.saved = append(c.saved, path)
		c.status("#34d399", fmt.Sprintf("%s✔ %s: image saved to %s", prefix, id, path))
	}
	if msg.Text != "" {
		rendered, err := c.markdown(msg.Text)
		if err != nil {
			rendered = msg.Text + "\n"
		}
		fmt.Fprintf(c.out, "%s%s:\n%s", prefix, id, rendered)
	}
	return nil
}

func (c *Console) status(color, line string) {
	fmt.Fprintln(c.out, c.out.String(line).Foreground(c.out.Color(color)))
}
