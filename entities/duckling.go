package entities

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/httpclient"
	"github.com/teranos/nlu/tools"
)

// DucklingClient recognizes system entities with a Duckling server.
type DucklingClient struct {
	baseURL     string
	client      *httpclient.Client
	concurrency int
}

var _ tools.SystemEntityExtractor = (*DucklingClient)(nil)

// NewDucklingClient targets the Duckling server at baseURL. concurrency
// bounds the number of in-flight /parse requests (default: 4).
func NewDucklingClient(baseURL string, client *httpclient.Client, concurrency int) (*DucklingClient, error) {
	if _, err := client.ValidateURL(baseURL); err != nil {
		return nil, errors.Wrapf(err, "invalid duckling url %q", baseURL)
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &DucklingClient{baseURL: strings.TrimRight(baseURL, "/"), client: client, concurrency: concurrency}, nil
}

type ducklingValue struct {
	Value any            `json:"value"`
	Unit  string         `json:"unit"`
	Type  string         `json:"type"`
	From  *ducklingBound `json:"from"`
	To    *ducklingBound `json:"to"`
}

type ducklingBound struct {
	Value any    `json:"value"`
	Unit  string `json:"unit"`
}

type ducklingEntity struct {
	Body   string        `json:"body"`
	Start  int           `json:"start"`
	End    int           `json:"end"`
	Dim    string        `json:"dim"`
	Latent bool          `json:"latent"`
	Value  ducklingValue `json:"value"`
}

var ducklingLocales = map[string]string{
	"en": "en_US",
	"fr": "fr_FR",
	"es": "es_ES",
	"de": "de_DE",
	"it": "it_IT",
	"pt": "pt_BR",
	"nl": "nl_NL",
	"ja": "ja_JP",
}

func ducklingLocale(lang string) string {
	if l, ok := ducklingLocales[lang]; ok {
		return l
	}
	return lang + "_" + strings.ToUpper(lang)
}

// ExtractMultiple parses every input. The first failing request fails the batch.
func (d *DucklingClient) ExtractMultiple(ctx context.Context, inputs []string, languageCode string) ([][]tools.SystemEntity, error) {
	out := make([][]tools.SystemEntity, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, input := range inputs {
		g.Go(func() error {
			found, err := d.parse(gctx, input, languageCode)
			if err != nil {
				return err
			}
			out[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DucklingClient) parse(ctx context.Context, text, lang string) ([]tools.SystemEntity, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("locale", ducklingLocale(lang))

	var raw []ducklingEntity
	if err := d.client.PostForm(ctx, d.baseURL+"/parse", form, &raw); err != nil {
		return nil, errors.Wrapf(err, "duckling failed to parse %d characters", len(text))
	}

	found := make([]tools.SystemEntity, 0, len(raw))
	for _, e := range raw {
		if e.Latent {
			continue
		}
		found = append(found, tools.SystemEntity{
			Type:       e.Dim,
			Value:      ducklingValueString(e.Value),
			Unit:       ducklingUnit(e.Value),
			Source:     e.Body,
			Start:      e.Start,
			End:        e.End,
			Confidence: 1,
		})
	}
	return found, nil
}

func ducklingValueString(v ducklingValue) string {
	if v.Type == "interval" {
		var from, to string
		if v.From != nil {
			from = fmt.Sprint(v.From.Value)
		}
		if v.To != nil {
			to = fmt.Sprint(v.To.Value)
		}
		return from + "/" + to
	}
	if v.Value == nil {
		return ""
	}
	return fmt.Sprint(v.Value)
}

func ducklingUnit(v ducklingValue) string {
	if v.Unit != "" {
		return v.Unit
	}
	if v.From != nil && v.From.Unit != "" {
		return v.From.Unit
	}
	if v.To != nil {
		return v.To.Unit
	}
	return ""
}
