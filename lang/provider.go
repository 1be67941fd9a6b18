// Package lang is the gateway to the remote language servers. It
// tokenizes and vectorizes through the first healthy source, fails over to
// backups, and keeps persisted LRU caches of vectors, tokens and junk words
// keyed by a hash of the engine and language server versions.
package lang

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/httpclient"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/tools"
	"github.com/teranos/nlu/version"
)

// Cache file prefixes
const (
	VectorsCachePrefix   = "lang_vectors"
	TokensCachePrefix    = "utterance_tokens"
	JunkWordsCachePrefix = "junk_words"
)

// Options configures a Provider.
type Options struct {
	Sources []am.LanguageSource
	Domain  string
	HTTP    httpclient.Options
	// HTTPClient, when set, replaces the default transport (tests).
	HTTPClient *http.Client

	InfoPollAttempts int
	InfoPollInterval time.Duration

	CacheDir            string
	FlushDelay          time.Duration
	VectorsMaxEntries   int
	TokensMaxEntries    int
	JunkWordsMaxEntries int
	Scheduler           Scheduler

	Logger *zap.SugaredLogger
}

// OptionsFromConfig maps the am configuration onto provider options.
func OptionsFromConfig(cfg *am.Config) Options {
	ls := cfg.LanguageServer
	return Options{
		Sources: ls.Sources,
		Domain:  ls.Domain,
		HTTP: httpclient.Options{
			Timeout:           time.Duration(ls.TimeoutSeconds) * time.Second,
			MaxRetries:        ls.MaxRetries,
			RequestsPerSecond: ls.RequestsPerSecond,
		},
		InfoPollAttempts:    ls.InfoPollAttempts,
		InfoPollInterval:    time.Duration(ls.InfoPollIntervalSeconds) * time.Second,
		CacheDir:            cfg.Cache.Dir,
		FlushDelay:          time.Duration(cfg.Cache.FlushDebounceSeconds) * time.Second,
		VectorsMaxEntries:   cfg.Cache.VectorsMaxEntries,
		TokensMaxEntries:    cfg.Cache.TokensMaxEntries,
		JunkWordsMaxEntries: cfg.Cache.JunkWordsMaxEntries,
	}
}

// Provider is the language gateway.
type Provider struct {
	sources []*Source
	log     *zap.SugaredLogger
	now     func() time.Time

	dimensions    int
	domain        string
	serverVersion string
	versionHash   string
	scheduler     Scheduler

	vectors *ManagedCache[[]float64]
	tokens  *ManagedCache[[]string]
	junk    *ManagedCache[junkEntry]

	junkMu sync.Mutex
}

type junkEntry struct {
	Grams []string `json:"grams"`
	Words []string `json:"words"`
}

// NewProvider connects to every configured source in parallel, drops the
// ones that never become ready, checks the rest agree on embeddings, and
// loads the caches matching their version.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("lang")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.Wrap(errors.ErrNoProvider, "no language source configured")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewTimerScheduler()
	}

	candidates := make([]*Source, len(opts.Sources))
	for i, cfg := range opts.Sources {
		httpOpts := opts.HTTP
		httpOpts.Authorization = cfg.Authorization
		var client *httpclient.Client
		if opts.HTTPClient != nil {
			client = httpclient.Wrap(opts.HTTPClient, httpOpts)
		} else {
			client = httpclient.New(httpOpts)
		}
		candidates[i] = NewSource(cfg.Endpoint, client, log)
	}

	connected := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range candidates {
		i, s := i, s
		g.Go(func() error {
			if err := s.Connect(gctx, opts.InfoPollAttempts, opts.InfoPollInterval); err != nil {
				log.Warnw("Language source unavailable", logger.FieldSource, s.Endpoint, logger.FieldError, err)
				return nil
			}
			connected[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "language provider initialization interrupted")
	}

	p := &Provider{log: log, now: time.Now, scheduler: opts.Scheduler}
	for i, ok := range connected {
		if ok {
			p.sources = append(p.sources, candidates[i])
		}
	}
	if len(p.sources) == 0 {
		return nil, errors.Wrap(errors.ErrNoProvider, "no language source could be reached")
	}
	if err := p.checkCompatibility(); err != nil {
		return nil, err
	}
	if opts.Domain != "" && opts.Domain != p.domain {
		log.Warnw("Configured domain differs from the language server's", "configured", opts.Domain, "served", p.domain)
	}

	hash, err := VersionHash(version.EngineVersion, p.serverVersion, p.dimensions, p.domain)
	if err != nil {
		return nil, err
	}
	p.versionHash = hash

	if err := p.initCaches(opts); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) checkCompatibility() error {
	first := p.sources[0].Info()
	p.dimensions, p.domain, p.serverVersion = first.Dimensions, first.Domain, first.Version
	for _, s := range p.sources[1:] {
		info := s.Info()
		if info.Dimensions != first.Dimensions {
			return errors.Newf("language sources have different dimensions: %d for %s and %d for %s",
				first.Dimensions, p.sources[0].Endpoint, info.Dimensions, s.Endpoint)
		}
		if info.Domain != first.Domain {
			return errors.Newf("language sources have different domains: %q for %s and %q for %s",
				first.Domain, p.sources[0].Endpoint, info.Domain, s.Endpoint)
		}
		if !version.Compatible(info.Version, first.Version) {
			return errors.Newf("language sources have incompatible versions: %s for %s and %s for %s",
				first.Version, p.sources[0].Endpoint, info.Version, s.Endpoint)
		}
	}
	return nil
}

func (p *Provider) initCaches(opts Options) error {
	newOpts := func(prefix string, size int) CacheOptions {
		return CacheOptions{
			Dir:         opts.CacheDir,
			Prefix:      prefix,
			VersionHash: p.versionHash,
			MaxEntries:  size,
			Scheduler:   opts.Scheduler,
			FlushDelay:  opts.FlushDelay,
			Logger:      p.log,
		}
	}
	var err error
	if p.vectors, err = NewManagedCache[[]float64](newOpts(VectorsCachePrefix, orDefault(opts.VectorsMaxEntries, 500000))); err != nil {
		return err
	}
	if p.tokens, err = NewManagedCache[[]string](newOpts(TokensCachePrefix, orDefault(opts.TokensMaxEntries, 10000))); err != nil {
		return err
	}
	if p.junk, err = NewManagedCache[junkEntry](newOpts(JunkWordsCachePrefix, orDefault(opts.JunkWordsMaxEntries, 10))); err != nil {
		return err
	}
	p.vectors.Init()
	p.tokens.Init()
	p.junk.Init()
	return nil
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// VersionHash identifies cache files: anything depending on the engine's
// or the language server's major.minor, the embedding size or the domain
// must be recomputed when one of them changes.
func VersionHash(engineVersion, serverVersion string, dims int, domain string) (string, error) {
	engineFloor, err := version.MinorFloor(engineVersion)
	if err != nil {
		return "", errors.Wrapf(err, "invalid engine version %q", engineVersion)
	}
	serverFloor, err := version.MinorFloor(serverVersion)
	if err != nil {
		return "", errors.Wrapf(err, "invalid language server version %q", serverVersion)
	}
	return md5Hex(fmt.Sprintf("%s:%s:%d:%s", engineFloor, serverFloor, dims, domain)), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (p *Provider) VersionHash() string   { return p.versionHash }
func (p *Provider) Dimensions() int       { return p.dimensions }
func (p *Provider) Domain() string        { return p.domain }
func (p *Provider) ServerVersion() string { return p.serverVersion }
func (p *Provider) Scheduler() Scheduler  { return p.scheduler }

// Languages is the sorted union of the languages of every source.
func (p *Provider) Languages() []string {
	seen := map[string]bool{}
	var langs []string
	for _, s := range p.sources {
		for _, l := range s.Languages() {
			if !seen[l] {
				seen[l] = true
				langs = append(langs, l)
			}
		}
	}
	sort.Strings(langs)
	return langs
}

// Health summarizes the connected sources.
func (p *Provider) Health() tools.Health {
	return tools.Health{
		IsEnabled:           len(p.sources) > 0,
		ValidProvidersCount: len(p.sources),
		ValidLanguages:      p.Languages(),
	}
}

// Close flushes pending cache dumps.
func (p *Provider) Close() {
	p.scheduler.Flush()
}

// query sends body to path on the first available source serving lang.
// A failing source is disabled for as many seconds as it has failed, but
// only when another source could take over.
func (p *Provider) query(ctx context.Context, lang, path string, body map[string]any, out any) error {
	var candidates []*Source
	for _, s := range p.sources {
		if s.Supports(lang) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return errors.Newf("Language %q is not supported by the configured language sources", lang)
	}

	now := p.now()
	var available []*Source
	for _, s := range candidates {
		if s.Available(now) {
			available = append(available, s)
		}
	}

	var lastErr error
	for _, s := range available {
		err := s.Post(ctx, path, lang, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s interrupted", path)
		}
		lastErr = err
		if len(available) > 1 {
			d := s.penalize(now)
			p.log.Warnw("Disabling language source after failure", logger.FieldSource, s.Endpoint,
				"disabled_for", d, logger.FieldError, err)
		} else {
			p.log.Warnw("Language source failed", logger.FieldSource, s.Endpoint, logger.FieldError, err)
		}
	}

	err := errors.Wrapf(errors.ErrNoProvider, "%s for language %q", path, lang)
	if lastErr != nil {
		err = errors.WithSecondaryError(err, lastErr)
	}
	return err
}
