package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/adapters/memory"
	"github.com/aretw0/texrender/pkg/backend"
	"github.com/aretw0/texrender/pkg/document"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/observability"
	"github.com/aretw0/texrender/pkg/ports"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// User-facing texts.
const (
	UsageHint        = "Type `=help tex` for information on how to use this command."
	TimeoutNotice    = "The renderer took too long to respond."
	FailureNotice    = "Something went wrong while rendering. Please try again later."
	PermissionNotice = "I don't have permission to upload images here :frowning:\nThe owner of this server should be able to fix this issue.\n"
	DeleteAdvisory   = "Failed to delete source message automatically - either grant the bot \"Manage Messages\" permissions or disable `f-tex-delete`"

	renderFailedFormat = "Rendering failed. Check your code. You may edit your existing message.\n\n**Error Log:**\n```\n%s\n```"
)

// DefaultEditWindow is how long a response can be re-rendered by editing its source.
const DefaultEditWindow = 5 * time.Minute

// detachedTimeout bounds the platform calls that still answer a request after the
// caller's deadline passed.
const detachedTimeout = 5 * time.Second

// Renderer is a protocol client.
type Renderer interface {
	Name() string
	Render(ctx context.Context, doc domain.Document) ([]byte, error)
}

// Linker is implemented by renderers that can deliver through a public link.
type Linker interface {
	Link(doc domain.Document) backend.Link
	Fetch(ctx context.Context, link backend.Link) ([]byte, error)
}

type blameRecord struct {
	ID string `json:"id"`
}

// Controller runs render requests end to end. It is safe for concurrent use.
type Controller struct {
	builder  *document.Builder
	renderer Renderer
	platform Platform
	store    ports.KeyStore

	flags      FlagResolver
	prefs      *Preferences
	edits      ports.KeyStore
	editWindow time.Duration
	locks      *keyedLock

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Controller.
type Option func(*Controller)

// WithFlags sets the feature resolver. Defaults to every feature disabled.
func WithFlags(flags FlagResolver) Option {
	return func(c *Controller) {
		c.flags = flags
	}
}

// WithPreferences sets where colour preferences come from. Defaults to the controller's store.
func WithPreferences(p *Preferences) Option {
	return func(c *Controller) {
		c.prefs = p
	}
}

// WithEditIndex replaces the in-process index of responses that edits may rewrite.
func WithEditIndex(index ports.KeyStore, window time.Duration) Option {
	return func(c *Controller) {
		c.edits = index
		if window > 0 {
			c.editWindow = window
		}
	}
}

// WithLocker serializes renders of one source message across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Controller) {
		c.locks.locker = locker
	}
}

// WithLogger configures a logger for the Controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
		c.locks.logger = logger
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController wires a Controller. store holds the requester records used for retraction.
func NewController(builder *document.Builder, renderer Renderer, platform Platform, store ports.KeyStore, opts ...Option) *Controller {
	c := &Controller{
		builder:    builder,
		renderer:   renderer,
		platform:   platform,
		store:      store,
		flags:      StaticFlags{},
		edits:      memory.NewStore(),
		editWindow: DefaultEditWindow,
		logger:     logging.NewNop(),
	}
	c.locks = newKeyedLock(c.logger)
	for _, opt := range opts {
		opt(c)
	}
	if c.prefs == nil {
		c.prefs = NewPreferences(store)
	}
	return c
}

// HandleCommand renders source for an explicit command.
func (c *Controller) HandleCommand(ctx context.Context, origin Origin, source string, mathMode bool) (Receipt, error) {
	receipt := Receipt{RequestID: uuid.NewString(), State: StatePending}
	err := c.locks.with(ctx, lockKey(origin), func(ctx context.Context) error {
		var err error
		receipt, err = c.run(ctx, origin, receipt, source, mathMode, "")
		return err
	})
	return receipt, err
}

// HandleMessage renders the $$-delimited segments of a plain chat message.
// The boolean reports whether the message triggered a render at all.
func (c *Controller) HandleMessage(ctx context.Context, origin Origin, content string) (Receipt, bool, error) {
	if origin.AuthorIsBot() || strings.HasPrefix(content, "==") || strings.Count(content, "$$") < 2 {
		return Receipt{}, false, nil
	}
	if !c.flags.Resolve(ctx, origin.ChannelID()).Inline {
		return Receipt{}, false, nil
	}
	source := document.ExtractInline(content)
	if source == "" {
		return Receipt{}, false, nil
	}
	receipt, err := c.HandleCommand(ctx, origin, source, true)
	return receipt, true, err
}

// HandleEdit re-renders after the requester edited the triggering message, rewriting the
// earlier response in place. Edits outside the edit window, or of a response that was
// deleted meanwhile, are dropped and reported as not handled.
func (c *Controller) HandleEdit(ctx context.Context, origin Origin, source string, mathMode bool) (Receipt, bool, error) {
	var (
		receipt = Receipt{RequestID: uuid.NewString(), State: StatePending}
		handled bool
	)
	err := c.locks.with(ctx, lockKey(origin), func(ctx context.Context) error {
		raw, err := c.edits.Get(ctx, NamespaceEdits, lockKey(origin))
		if err != nil {
			if errors.Is(err, domain.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		receipt, err = c.run(ctx, origin, receipt, source, mathMode, string(raw))
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Debug("Dropping edit of a deleted response", "request_id", receipt.RequestID, "response", string(raw))
			_ = c.edits.Delete(ctx, NamespaceEdits, lockKey(origin))
			return nil
		}
		handled = err == nil
		return err
	})
	return receipt, handled, err
}

// HandleReaction retracts a response when its requester reacts with TrashEmoji.
// The boolean reports whether a response was retracted.
func (c *Controller) HandleReaction(ctx context.Context, r Reaction) (bool, error) {
	if r.UserIsBot || r.Emoji != TrashEmoji {
		return false, nil
	}

	var blame blameRecord
	if err := ports.GetJSON(ctx, c.store, NamespaceBlame, r.MessageID, &blame); err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load requester: %w", err)
	}
	if blame.ID != r.UserID {
		return false, nil
	}

	if err := c.platform.Delete(ctx, r.ChannelID, r.MessageID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("failed to retract response: %w", err)
	}
	if err := c.store.Delete(ctx, NamespaceBlame, r.MessageID); err != nil {
		c.logger.Warn("Failed to forget requester", "message", r.MessageID, "err", err)
	}
	c.metrics.Delivered(StateRetracted.String())
	c.logger.Info("Response retracted", "message", r.MessageID, "user", r.UserID)
	return true, nil
}

func lockKey(origin Origin) string {
	return origin.ChannelID() + ":" + origin.SourceID()
}

// run executes one request. A non-empty responseID means the existing response is edited
// instead of a new one being posted.
func (c *Controller) run(ctx context.Context, origin Origin, receipt Receipt, source string, mathMode bool, responseID string) (Receipt, error) {
	logger := c.logger.With("request_id", receipt.RequestID, "author", origin.AuthorID(), "channel", origin.ChannelID())

	if strings.TrimSpace(source) == "" {
		id, err := c.respond(ctx, origin, responseID, Message{Text: UsageHint}, true)
		if err != nil {
			return receipt, err
		}
		receipt.ResponseID = id
		receipt.State = StateFailed
		return receipt, nil
	}

	req := domain.RenderRequest{
		RequesterID: origin.AuthorID(),
		Source:      source,
		MathMode:    mathMode,
		Colors:      c.prefs.Colors(ctx, origin.AuthorID()),
	}
	logger.Info("Render requested", "source", req.Source, "math_mode", req.MathMode)
	doc := c.builder.BuildRequest(req)
	features := c.flags.Resolve(ctx, origin.ChannelID())

	var (
		res response
		err error
	)
	if linker, ok := c.renderer.(Linker); ok {
		res, err = c.deliverLinked(ctx, origin, linker, doc, responseID, logger)
	} else {
		res, err = c.deliverImage(ctx, origin, doc, responseID, logger)
	}
	if err != nil {
		c.metrics.Delivered(StateFailed.String())
		return receipt, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// The notice is out; finish the bookkeeping for it.
		var cancel context.CancelFunc
		ctx, cancel = detach(ctx)
		defer cancel()
	}
	id := res.id
	receipt.ResponseID = id

	receipt.State = StateDelivered
	if res.renderErr != nil {
		receipt.State = StateFailed
	}
	c.metrics.Delivered(receipt.State.String())

	if receipt.State == StateDelivered && features.DeleteSource {
		receipt.SourceRemoved = c.removeSource(ctx, origin, logger)
	}
	if features.Retraction && responseID == "" {
		receipt.RetractionOffered = c.offerRetraction(ctx, origin, id, logger)
	}

	if responseID == "" {
		if err := c.edits.Set(ctx, NamespaceEdits, lockKey(origin), []byte(id), c.editWindow); err != nil {
			logger.Warn("Failed to index response for edits", "err", err)
		}
	}
	return receipt, nil
}

// response is the message that answered a request. renderErr has already been shown to the user.
type response struct {
	id        string
	renderErr error
}

// deliverImage renders doc and posts the image or a failure notice.
func (c *Controller) deliverImage(ctx context.Context, origin Origin, doc domain.Document, responseID string, logger *slog.Logger) (response, error) {
	img, renderErr := c.renderer.Render(ctx, doc)
	if renderErr != nil && ctx.Err() != nil {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return response{}, ctx.Err()
		}
		renderErr = fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
		var cancel context.CancelFunc
		ctx, cancel = detach(ctx)
		defer cancel()
	}

	msg, reply := c.notice(renderErr, logger)
	if renderErr == nil {
		msg = Message{Attachment: &Attachment{Name: ImageName, Data: img}}
	}

	id, err := c.respond(ctx, origin, responseID, msg, reply)
	if errors.Is(err, domain.ErrForbidden) && msg.Attachment != nil {
		logger.Warn("Missing permission to upload images")
		id, err = c.respond(ctx, origin, responseID, Message{Text: PermissionNotice}, false)
		if err == nil {
			renderErr = domain.ErrForbidden
		}
	}
	return response{id: id, renderErr: renderErr}, err
}

// deliverLinked routes through the signed-URL protocol. Fast links are posted while the
// render is fetched; a failed fetch rewrites the link message. Slow links are fetched and
// re-uploaded.
func (c *Controller) deliverLinked(ctx context.Context, origin Origin, linker Linker, doc domain.Document, responseID string, logger *slog.Logger) (response, error) {
	link := linker.Link(doc)
	logger = logger.With("mode", link.Mode.String())
	if link.Mode == backend.ModeSlow {
		return c.deliverImage(ctx, origin, doc, responseID, logger)
	}

	var (
		g        errgroup.Group
		id       string
		fetchErr error
	)
	g.Go(func() error {
		var err error
		id, err = c.respond(ctx, origin, responseID, Message{Text: link.PublicURL}, false)
		return err
	})
	g.Go(func() error {
		_, fetchErr = linker.Fetch(ctx, link)
		return nil
	})
	if err := g.Wait(); err != nil {
		return response{}, err
	}
	if fetchErr == nil {
		return response{id: id}, nil
	}
	if ctx.Err() != nil {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return response{id: id, renderErr: fetchErr}, ctx.Err()
		}
		fetchErr = fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
		var cancel context.CancelFunc
		ctx, cancel = detach(ctx)
		defer cancel()
	}
	res := response{id: id, renderErr: fetchErr}

	msg, _ := c.notice(fetchErr, logger)
	if err := c.platform.Edit(ctx, origin.ChannelID(), id, msg); err != nil {
		return res, fmt.Errorf("failed to replace link: %w", err)
	}
	return res, nil
}

// detach returns a context that outlives ctx's deadline by detachedTimeout.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
}

// notice builds the text shown for a failed render. reply reports whether the notice
// answers the triggering message directly.
func (c *Controller) notice(err error, logger *slog.Logger) (Message, bool) {
	switch domain.Classify(err) {
	case domain.OutcomeImage:
		return Message{}, false
	case domain.OutcomeTimeout:
		logger.Warn("Render timed out")
		return Message{Text: TimeoutNotice}, true
	case domain.OutcomeRenderingFailed:
		var renderErr *domain.RenderError
		errors.As(err, &renderErr)
		logger.Info("Render rejected by backend", "log_bytes", len(renderErr.Log))
		return Message{Text: fmt.Sprintf(renderFailedFormat, ErrorExcerpt(renderErr.Log))}, false
	default:
		logger.Error("Render failed", "backend", c.renderer.Name(), "err", err)
		return Message{Text: FailureNotice}, false
	}
}

// respond posts msg, or edits responseID when set. It returns the response ID.
func (c *Controller) respond(ctx context.Context, origin Origin, responseID string, msg Message, reply bool) (string, error) {
	if responseID != "" {
		return responseID, c.platform.Edit(ctx, origin.ChannelID(), responseID, msg)
	}
	if reply {
		return origin.Reply(ctx, msg)
	}
	return origin.Send(ctx, msg)
}

func (c *Controller) removeSource(ctx context.Context, origin Origin, logger *slog.Logger) bool {
	err := c.platform.Delete(ctx, origin.ChannelID(), origin.SourceID())
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrNotFound):
		return false
	case errors.Is(err, domain.ErrForbidden):
		if _, err := origin.Reply(ctx, Message{Text: DeleteAdvisory}); err != nil {
			logger.Warn("Failed to send delete advisory", "err", err)
		}
		return false
	default:
		logger.Warn("Failed to delete source message", "err", err)
		return false
	}
}

func (c *Controller) offerRetraction(ctx context.Context, origin Origin, responseID string, logger *slog.Logger) bool {
	err := c.platform.React(ctx, origin.ChannelID(), responseID, TrashEmoji)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Failed to add retraction reaction", "err", err)
		}
		return false
	}
	if err := ports.SetJSON(ctx, c.store, NamespaceBlame, responseID, blameRecord{ID: origin.AuthorID()}, 0); err != nil {
		logger.Warn("Failed to record requester", "err", err)
		return false
	}
	return true
}
