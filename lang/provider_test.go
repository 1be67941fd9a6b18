package lang

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/httpclient"
)

// fakeServer mimics a language server: tokens are whitespace separated
// words prefixed by a space marker, vectors are derived from the token.
type fakeServer struct {
	*httptest.Server
	version   string
	dims      int
	langs     []string
	vectorize int32
	tokenize  int32
	fail      atomic.Bool
}

func newFakeServer(t *testing.T, version string, dims int, langs ...string) *fakeServer {
	t.Helper()
	f := &fakeServer{version: version, dims: dims, langs: langs}
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		languages := make([]map[string]any, len(f.langs))
		for i, l := range f.langs {
			languages[i] = map[string]any{"lang": l, "loaded": true}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ready": true, "version": f.version, "dimentions": f.dims, "domain": "bp", "languages": languages,
		})
	})
	mux.HandleFunc("/vectorize", func(w http.ResponseWriter, r *http.Request) {
		if f.fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		atomic.AddInt32(&f.vectorize, 1)
		var body struct {
			Tokens []string `json:"tokens"`
			Lang   string   `json:"lang"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		vectors := make([][]float64, len(body.Tokens))
		for i, tok := range body.Tokens {
			v := make([]float64, f.dims)
			v[0] = float64(len(tok))
			if f.dims > 1 {
				v[1] = float64([]rune(tok)[0])
			}
			vectors[i] = v
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		if f.fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		atomic.AddInt32(&f.tokenize, 1)
		var body struct {
			Utterances []string `json:"utterances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tokens := make([][]string, len(body.Utterances))
		for i, u := range body.Utterances {
			for _, w := range strings.Fields(u) {
				tokens[i] = append(tokens[i], "▁"+w)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"tokens": tokens})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func testOptions(t *testing.T, servers ...*fakeServer) Options {
	sources := make([]am.LanguageSource, len(servers))
	for i, s := range servers {
		sources[i] = am.LanguageSource{Endpoint: s.URL}
	}
	return Options{
		Sources:          sources,
		Domain:           "bp",
		HTTP:             httpclient.Options{MaxRetries: 1},
		HTTPClient:       &http.Client{Timeout: 5 * time.Second},
		InfoPollAttempts: 1,
		CacheDir:         t.TempDir(),
		Scheduler:        ImmediateScheduler{},
		Logger:           zaptest.NewLogger(t).Sugar(),
	}
}

func TestNewProvider(t *testing.T) {
	server := newFakeServer(t, "1.2.3", 3, "en", "fr")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	assert.Equal(t, 3, p.Dimensions())
	assert.Equal(t, []string{"en", "fr"}, p.Languages())
	assert.True(t, p.Health().IsEnabled)
	assert.Equal(t, 1, p.Health().ValidProvidersCount)

	expected, err := VersionHash("2.2.0", "1.2.3", 3, "bp")
	require.NoError(t, err)
	assert.Equal(t, expected, p.VersionHash())
}

func TestNewProvider_NoReachableSource(t *testing.T) {
	opts := testOptions(t)
	opts.Sources = []am.LanguageSource{{Endpoint: "http://127.0.0.1:1"}}
	_, err := NewProvider(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoProvider))
}

func TestNewProvider_IncompatibleSources(t *testing.T) {
	a := newFakeServer(t, "1.2.0", 3, "en")
	b := newFakeServer(t, "1.2.0", 4, "en")
	_, err := NewProvider(context.Background(), testOptions(t, a, b))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different dimensions")

	c := newFakeServer(t, "2.0.0", 3, "en")
	_, err = NewProvider(context.Background(), testOptions(t, a, c))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incompatible versions")
}

func TestVersionHash(t *testing.T) {
	a, err := VersionHash("2.2.0", "1.2.3", 300, "bp")
	require.NoError(t, err)
	b, err := VersionHash("2.2.9", "1.2.0", 300, "bp")
	require.NoError(t, err)
	assert.Equal(t, a, b, "patch versions share caches")

	c, err := VersionHash("2.3.0", "1.2.0", 300, "bp")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = VersionHash("not a version", "1.0.0", 300, "bp")
	assert.Error(t, err)
}

func TestVectorize(t *testing.T) {
	server := newFakeServer(t, "1.0.0", 3, "en")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	ctx := context.Background()
	vectors, err := p.Vectorize(ctx, []string{"Hello", "▁", "world", "hello"}, "en")
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	assert.Equal(t, []float64{0, 0, 0}, vectors[1], "space tokens are zero vectors")
	assert.Equal(t, float64('h'), vectors[0][1], "tokens are queried lower-cased")
	assert.Equal(t, float64(5), vectors[2][0])
	assert.EqualValues(t, 1, atomic.LoadInt32(&server.vectorize))

	_, err = p.Vectorize(ctx, []string{"hello", "world"}, "en")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&server.vectorize), "second call is served from cache")

	_, err = os.Stat(filepath.Join(p.vectors.opts.Dir, VectorsCachePrefix+"_"+p.VersionHash()+".json"))
	assert.NoError(t, err, "cache is persisted")
}

func TestVectorize_Batches(t *testing.T) {
	server := newFakeServer(t, "1.0.0", 2, "en")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	tokens := make([]string, 250)
	for i := range tokens {
		tokens[i] = strings.Repeat("x", i+1)
	}
	vectors, err := p.Vectorize(context.Background(), tokens, "en")
	require.NoError(t, err)
	assert.Len(t, vectors, 250)
	assert.EqualValues(t, 3, atomic.LoadInt32(&server.vectorize))
}

func TestUnsupportedLanguage(t *testing.T) {
	server := newFakeServer(t, "1.0.0", 3, "en")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	_, err = p.Vectorize(context.Background(), []string{"bonjour"}, "fr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Language "fr" is not supported`)
}

func TestFailover(t *testing.T) {
	primary := newFakeServer(t, "1.0.0", 3, "en")
	backup := newFakeServer(t, "1.0.0", 3, "en")
	p, err := NewProvider(context.Background(), testOptions(t, primary, backup))
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	primary.fail.Store(true)
	_, err = p.Vectorize(context.Background(), []string{"a"}, "en")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&backup.vectorize))
	assert.False(t, p.sources[0].Available(now), "failing source is disabled")
	assert.True(t, p.sources[0].Available(now.Add(time.Second)), "for one second after its first error")

	// while disabled the primary is not even tried
	primary.fail.Store(false)
	_, err = p.Vectorize(context.Background(), []string{"b"}, "en")
	require.NoError(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&primary.vectorize))
	assert.EqualValues(t, 2, atomic.LoadInt32(&backup.vectorize))
}

func TestPenaltyDoublesPerFailure(t *testing.T) {
	s := &Source{Endpoint: "http://lang.local"}
	now := time.Now()

	var got []time.Duration
	for i := 0; i < 11; i++ {
		got = append(got, s.penalize(now))
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 64 * time.Second, 128 * time.Second,
		256 * time.Second, 256 * time.Second, 256 * time.Second,
	}, got)
	assert.False(t, s.Available(now.Add(255*time.Second)))
	assert.True(t, s.Available(now.Add(256*time.Second)))
}

func TestSingleSourceIsNeverDisabled(t *testing.T) {
	server := newFakeServer(t, "1.0.0", 3, "en")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	server.fail.Store(true)
	_, err = p.Vectorize(context.Background(), []string{"a"}, "en")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoProvider))
	assert.True(t, p.sources[0].Available(time.Now()))
}

func TestTokenize(t *testing.T) {
	server := newFakeServer(t, "1.0.0", 3, "en")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	ctx := context.Background()
	toks, err := p.Tokenize(ctx, []string{"Book a Flight!", "book a flight!"}, "en", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Book", "▁", "a", "▁", "Flight", "!"}, toks[0])
	assert.Equal(t, []string{"book", "▁", "a", "▁", "flight", "!"}, toks[1])
	assert.EqualValues(t, 1, atomic.LoadInt32(&server.tokenize))

	_, err = p.Tokenize(ctx, []string{"Book a Flight!"}, "en", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&server.tokenize))
}

func TestProcessTokens(t *testing.T) {
	vocab := map[string]bool{"e-mail": true}
	toks := processTokens([]string{"▁send", "▁an", "▁e", "-", "mail"}, vocab)
	assert.Equal(t, []string{"▁", "send", "▁", "an", "▁", "e-mail"}, toks)

	assert.Equal(t, []string{"▁", "e", "-", "mail"}, processTokens([]string{"▁e-mail"}, nil))
}

func TestRestoreCasing(t *testing.T) {
	toks := restoreCasing([]string{"▁", "hello", "▁", "élodie"}, "Hello Élodie")
	assert.Equal(t, []string{"Hello", "▁", "Élodie"}, toks)
	assert.Equal(t, "Hello Élodie", strings.ReplaceAll(strings.Join(toks, ""), "▁", " "))
}

func TestTokenizeBatches(t *testing.T) {
	long := strings.Repeat("x", 20000)
	batches := tokenizeBatches([]string{long, long, "short"})
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 2)
	assert.Empty(t, tokenizeBatches(nil))
}

func TestGenerateSimilarJunkWords(t *testing.T) {
	server := newFakeServer(t, "1.0.0", 3, "en")
	p, err := NewProvider(context.Background(), testOptions(t, server))
	require.NoError(t, err)

	ctx := context.Background()
	vocab := []string{"flight", "book", "ticket", "travel", "airport"}
	junk, err := p.GenerateSimilarJunkWords(ctx, vocab, "en")
	require.NoError(t, err)
	assert.Len(t, junk, junkWordsCount)
	for _, w := range junk[:20] {
		n := len([]rune(w))
		assert.GreaterOrEqual(t, n, 3)
	}

	again, err := p.GenerateSimilarJunkWords(ctx, append(vocab, "flights"), "en")
	require.NoError(t, err)
	assert.Equal(t, junk, again, "similar vocabularies reuse junk words")

	other, err := p.GenerateSimilarJunkWords(ctx, []string{"zebra", "quokka", "yak"}, "en")
	require.NoError(t, err)
	assert.NotEqual(t, junk, other)

	none, err := p.GenerateSimilarJunkWords(ctx, nil, "en")
	require.NoError(t, err)
	assert.Empty(t, none)
}
