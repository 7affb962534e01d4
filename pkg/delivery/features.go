package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/ports"
)

// Setting names, as users toggle them.
const (
	FlagDeleteSource = "f-tex-delete"
	FlagRetraction   = "f-tex-trashcan"
	FlagInline       = "f-inline-tex"
)

// Key-value namespaces used by the controller.
const (
	NamespaceFeatures = "features"
	NamespaceColour   = "p-tex-colour"
	NamespaceBlame    = "blame"
	NamespaceEdits    = "edits"
)

// Features are the per-channel toggles.
type Features struct {
	DeleteSource bool `mapstructure:"delete_source"`
	Retraction   bool `mapstructure:"retraction"`
	Inline       bool `mapstructure:"inline"`
}

// FlagResolver resolves the features enabled in a channel.
type FlagResolver interface {
	Resolve(ctx context.Context, channelID string) Features
}

// StaticFlags enables the same features everywhere.
type StaticFlags Features

func (s StaticFlags) Resolve(ctx context.Context, channelID string) Features {
	return Features(s)
}

// StoreFlags reads per-channel overrides from a KeyStore ("true"/"false" under
// "<channel>:<flag>") and falls back to defaults.
type StoreFlags struct {
	store    ports.KeyStore
	defaults Features
	logger   *slog.Logger
}

// NewStoreFlags creates a StoreFlags. A nil logger disables logging.
func NewStoreFlags(store ports.KeyStore, defaults Features, logger *slog.Logger) *StoreFlags {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StoreFlags{store: store, defaults: defaults, logger: logger}
}

func (f *StoreFlags) Resolve(ctx context.Context, channelID string) Features {
	return Features{
		DeleteSource: f.flag(ctx, channelID, FlagDeleteSource, f.defaults.DeleteSource),
		Retraction:   f.flag(ctx, channelID, FlagRetraction, f.defaults.Retraction),
		Inline:       f.flag(ctx, channelID, FlagInline, f.defaults.Inline),
	}
}

// Set stores an override for one channel.
func (f *StoreFlags) Set(ctx context.Context, channelID, flag string, enabled bool) error {
	return f.store.Set(ctx, NamespaceFeatures, channelID+":"+flag, []byte(strconv.FormatBool(enabled)), 0)
}

func (f *StoreFlags) flag(ctx context.Context, channelID, flag string, def bool) bool {
	raw, err := f.store.Get(ctx, NamespaceFeatures, channelID+":"+flag)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) {
			f.logger.Warn("Failed to resolve feature flag", "flag", flag, "channel", channelID, "err", err)
		}
		return def
	}
	enabled, err := strconv.ParseBool(string(raw))
	if err != nil {
		f.logger.Warn("Ignoring malformed feature flag", "flag", flag, "channel", channelID, "value", string(raw))
		return def
	}
	return enabled
}

// Preferences reads per-user colour preferences.
type Preferences struct {
	store ports.KeyStore
}

// NewPreferences creates Preferences. A nil store means everybody gets the light scheme.
func NewPreferences(store ports.KeyStore) *Preferences {
	return &Preferences{store: store}
}

// Colors returns the user's scheme; missing or unreadable preferences yield the light scheme.
func (p *Preferences) Colors(ctx context.Context, userID string) domain.ColorScheme {
	if p == nil || p.store == nil {
		return domain.LightScheme
	}
	raw, err := p.store.Get(ctx, NamespaceColour, userID)
	if err != nil {
		return domain.LightScheme
	}
	return domain.SchemeFor(string(raw))
}

// SetScheme stores the user's scheme name.
func (p *Preferences) SetScheme(ctx context.Context, userID, name string) error {
	return p.store.Set(ctx, NamespaceColour, userID, []byte(name), 0)
}
