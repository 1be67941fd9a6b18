package lang

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/httpclient"
	"github.com/teranos/nlu/logger"
)

// ServerInfo is the /info document of a language server.
type ServerInfo struct {
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	// the wire name is misspelled by the language server
	Dimensions int              `json:"dimentions"`
	Domain     string           `json:"domain"`
	Languages  []ServerLanguage `json:"languages"`
}

// ServerLanguage is one language offered by a server.
type ServerLanguage struct {
	Lang   string `json:"lang"`
	Loaded bool   `json:"loaded"`
}

// Source is one language server endpoint together with its failure state.
type Source struct {
	Endpoint string

	client *httpclient.Client
	log    *zap.SugaredLogger

	mu            sync.Mutex
	info          *ServerInfo
	errorCount    int
	disabledUntil time.Time
}

// NewSource returns an unconnected source.
func NewSource(endpoint string, client *httpclient.Client, log *zap.SugaredLogger) *Source {
	return &Source{
		Endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		log:      log.With(logger.FieldSource, endpoint),
	}
}

// Connect polls /info until the server reports ready. It gives up after
// attempts polls spaced by interval.
func (s *Source) Connect(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		var info ServerInfo
		err := s.client.GetJSON(ctx, s.Endpoint+"/info", &info)
		switch {
		case err != nil:
			lastErr = err
		case !info.Ready:
			lastErr = errors.New("language server is not ready")
		default:
			s.mu.Lock()
			s.info = &info
			s.mu.Unlock()
			s.log.Infow("Connected to language server",
				"version", info.Version, "dimensions", info.Dimensions, "domain", info.Domain,
				logger.FieldCount, len(info.Languages))
			return nil
		}

		if i == attempts {
			break
		}
		s.log.Debugw("Language server unavailable, retrying", "attempt", i, logger.FieldError, lastErr)
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "stopped polling %s", s.Endpoint)
		case <-time.After(interval):
		}
	}
	return errors.Wrapf(lastErr, "could not connect to language server %s after %d attempts", s.Endpoint, attempts)
}

// Info returns the /info document fetched by Connect, or nil.
func (s *Source) Info() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Languages lists the language codes the source serves.
func (s *Source) Languages() []string {
	info := s.Info()
	if info == nil {
		return nil
	}
	langs := make([]string, 0, len(info.Languages))
	for _, l := range info.Languages {
		langs = append(langs, l.Lang)
	}
	return langs
}

// Supports reports whether the source serves lang.
func (s *Source) Supports(lang string) bool {
	for _, l := range s.Languages() {
		if l == lang {
			return true
		}
	}
	return false
}

// Available reports whether the source is out of its penalty window.
func (s *Source) Available(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabledUntil.After(now)
}

// maxPenaltyShift caps the disable window at 2^maxPenaltyShift seconds.
const maxPenaltyShift = 8

// penalize disables the source for a window that doubles with every
// failure: 1s, 2s, 4s, ... up to 256s.
func (s *Source) penalize(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	d := time.Second << min(s.errorCount-1, maxPenaltyShift)
	s.disabledUntil = now.Add(d)
	return d
}

// Post sends body to path with the language code attached.
func (s *Source) Post(ctx context.Context, path, lang string, body map[string]any, out any) error {
	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["lang"] = lang
	return s.client.PostJSON(ctx, s.Endpoint+path, payload, out)
}
