package records

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/animalet/sargantana-ksm/pkg/cache"
	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SourceName is the name under which projected properties are published.
const SourceName = "keeperKsm"

// PropertySource is a read-only set of projected properties. Besides the flat "<uid>.<name>"
// keys it answers keeper notation without an index, e.g. "keeper://<uid>/field/password".
type PropertySource struct {
	props map[string]string
}

// NewPropertySource copies props.
func NewPropertySource(props map[string]string) *PropertySource {
	p := &PropertySource{props: make(map[string]string, len(props))}
	for k, v := range props {
		p.props[k] = v
	}
	return p
}

// Name returns SourceName.
func (p *PropertySource) Name() string { return SourceName }

// Get returns the property named key.
func (p *PropertySource) Get(key string) (string, bool) {
	if v, ok := p.props[key]; ok {
		return v, true
	}
	if !strings.HasPrefix(key, NotationPrefix+":") {
		return "", false
	}
	n, err := ParseNotation(key)
	if err != nil || n.Index > 0 || n.All || n.Property != "" {
		return "", false
	}
	uid, ok := p.uidFor(n.Record)
	if !ok {
		return "", false
	}
	name := n.Field
	if name == "" {
		name = string(n.Selector)
	}
	v, ok := p.props[uid+"."+name]
	return v, ok
}

func (p *PropertySource) uidFor(record string) (string, bool) {
	if _, ok := p.props[record+".title"]; ok {
		return record, true
	}
	for _, k := range p.Keys() {
		if uid, ok := strings.CutSuffix(k, ".title"); ok && p.props[k] == record {
			return uid, true
		}
	}
	return "", false
}

// Keys returns the property names in sorted order.
func (p *PropertySource) Keys() []string {
	keys := make([]string, 0, len(p.props))
	for k := range p.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the properties.
func (p *PropertySource) Map() map[string]string {
	out := make(map[string]string, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out
}

// Len is the number of properties.
func (p *PropertySource) Len() int { return len(p.props) }

// LocatorOption customizes a Locator.
type LocatorOption func(*Locator)

// WithCache serves fresh projections from store. When allowStale is set an expired entry is
// served if Keeper cannot be reached.
func WithCache(store cache.Store, ttl time.Duration, allowStale bool) LocatorOption {
	return func(l *Locator) {
		l.store = store
		l.ttl = ttl
		l.allowStale = allowStale
	}
}

// WithLocatorAuditLogger sends audit events to logger.
func WithLocatorAuditLogger(logger zerolog.Logger) LocatorOption {
	return func(l *Locator) {
		l.audit = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LocatorOption {
	return func(l *Locator) {
		l.now = now
	}
}

// Locator projects the configured records.
type Locator struct {
	sm         ksm.SecretsManager
	opts       ksm.Options
	specs      []string
	store      cache.Store
	ttl        time.Duration
	allowStale bool
	audit      zerolog.Logger
	now        func() time.Time
}

// NewLocator creates a locator for specs, each an opaque UID or a folder/title pair.
func NewLocator(sm ksm.SecretsManager, opts ksm.Options, specs []string, options ...LocatorOption) *Locator {
	l := &Locator{
		sm:    sm,
		opts:  opts,
		specs: append([]string(nil), specs...),
		audit: log.Logger,
		now:   time.Now,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Locate returns the projected properties, or nil when no records are configured.
func (l *Locator) Locate(ctx context.Context) (*PropertySource, error) {
	if len(l.specs) == 0 {
		return nil, nil
	}

	key := cache.Key(l.specs)
	cached, hit := l.lookup(ctx, key)
	if hit && cached.Fresh(l.ttl, l.now()) {
		log.Debug().Str("cache", l.store.Name()).Msg("Serving KSM properties from cache")
		return NewPropertySource(cached.Properties), nil
	}

	props, err := l.fetch(ctx)
	if err != nil {
		var resErr *ksmerr.ResolutionError
		if hit && l.allowStale && !errors.As(err, &resErr) {
			log.Warn().Err(err).Time("fetched_at", cached.FetchedAt).Msg("Keeper is unreachable, serving stale KSM properties")
			return NewPropertySource(cached.Properties), nil
		}
		return nil, err
	}

	if l.store != nil {
		if err = l.store.Put(ctx, key, cache.Entry{Properties: props, FetchedAt: l.now()}); err != nil {
			log.Warn().Err(err).Str("cache", l.store.Name()).Msg("Failed to cache KSM properties")
		}
	}
	l.audit.Info().Str("event", "ksm.properties.projected").Int("records", len(l.specs)).Int("properties", len(props)).
		Msg("KSM records projected into configuration")
	return NewPropertySource(props), nil
}

func (l *Locator) lookup(ctx context.Context, key string) (cache.Entry, bool) {
	if l.store == nil {
		return cache.Entry{}, false
	}
	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("cache", l.store.Name()).Msg("Ignoring unreadable KSM cache entry")
		return cache.Entry{}, false
	}
	return e, ok
}

// fetch resolves every specifier against at most one snapshot, taken only when a folder/title
// specifier is present, then reads the resolved records.
func (l *Locator) fetch(ctx context.Context) (map[string]string, error) {
	uids := make([]string, 0, len(l.specs))
	var snap *Snapshot
	for _, spec := range l.specs {
		if IsOpaqueID(spec) {
			uids = append(uids, spec)
			continue
		}
		if snap == nil {
			var err error
			if snap, err = FetchSnapshot(ctx, l.sm, l.opts); err != nil {
				return nil, err
			}
		}
		uid, err := Resolve(spec, snap)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("specifier", spec).Str("uid", uid).Msg("Resolved KSM record")
		uids = append(uids, uid)
	}

	secrets, err := l.sm.GetSecrets(ctx, l.opts, uids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read KSM records")
	}
	return Project(secrets.Records), nil
}
