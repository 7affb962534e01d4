package delivery_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/texrender/pkg/delivery"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/stretchr/testify/mock"
)

type mockPlatform struct {
	mock.Mock
}

func (m *mockPlatform) Edit(ctx context.Context, channelID, messageID string, msg delivery.Message) error {
	return m.Called(channelID, messageID, msg).Error(0)
}

func (m *mockPlatform) Delete(ctx context.Context, channelID, messageID string) error {
	return m.Called(channelID, messageID).Error(0)
}

func (m *mockPlatform) React(ctx context.Context, channelID, messageID, emoji string) error {
	return m.Called(channelID, messageID, emoji).Error(0)
}

// fakeOrigin records what the controller posts. Message IDs are resp-1, resp-2, ...
type fakeOrigin struct {
	author  string
	bot     bool
	channel string
	source  string

	mu       sync.Mutex
	sent     []delivery.Message
	replies  []delivery.Message
	sendErrs []error
	posted   int
}

func newOrigin() *fakeOrigin {
	return &fakeOrigin{author: "u1", channel: "c1", source: "src1"}
}

func (o *fakeOrigin) AuthorID() string  { return o.author }
func (o *fakeOrigin) AuthorIsBot() bool { return o.bot }
func (o *fakeOrigin) ChannelID() string { return o.channel }
func (o *fakeOrigin) SourceID() string  { return o.source }

func (o *fakeOrigin) Send(ctx context.Context, msg delivery.Message) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sendErrs) > 0 {
		err := o.sendErrs[0]
		o.sendErrs = o.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	o.sent = append(o.sent, msg)
	o.posted++
	return fmt.Sprintf("resp-%d", o.posted), nil
}

func (o *fakeOrigin) Reply(ctx context.Context, msg delivery.Message) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, msg)
	o.posted++
	return fmt.Sprintf("resp-%d", o.posted), nil
}

func (o *fakeOrigin) Sent() []delivery.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]delivery.Message(nil), o.sent...)
}

func (o *fakeOrigin) Replies() []delivery.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]delivery.Message(nil), o.replies...)
}

// stubRenderer returns a fixed result and keeps the documents it saw.
type stubRenderer struct {
	mu   sync.Mutex
	img  []byte
	err  error
	docs []domain.Document
}

func (r *stubRenderer) Name() string { return "stub" }

func (r *stubRenderer) Render(ctx context.Context, doc domain.Document) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return r.img, r.err
}

func (r *stubRenderer) Docs() []domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Document(nil), r.docs...)
}

func image(data string) delivery.Message {
	return delivery.Message{Attachment: &delivery.Attachment{Name: delivery.ImageName, Data: []byte(data)}}
}

// blockingRenderer waits for the caller's context to end.
type blockingRenderer struct{}

func (blockingRenderer) Name() string { return "blocking" }

func (blockingRenderer) Render(ctx context.Context, doc domain.Document) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
