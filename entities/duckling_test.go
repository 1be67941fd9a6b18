package entities

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/internal/httpclient"
)

func TestDucklingClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "fr_FR", r.PostForm.Get("locale"))

		switch r.PostForm.Get("text") {
		case "2 nuits à 30 euros":
			w.Write([]byte(`[
				{"body":"2","start":0,"end":1,"dim":"number","latent":false,"value":{"value":2,"type":"value"}},
				{"body":"30 euros","start":10,"end":18,"dim":"amount-of-money","latent":false,"value":{"value":30,"unit":"EUR","type":"value"}},
				{"body":"nuits","start":2,"end":7,"dim":"duration","latent":true,"value":{"value":1,"type":"value"}}
			]`))
		case "entre 2 et 4 jours":
			w.Write([]byte(`[
				{"body":"entre 2 et 4 jours","start":0,"end":18,"dim":"duration","latent":false,
				 "value":{"type":"interval","from":{"value":2,"unit":"day"},"to":{"value":4,"unit":"day"}}}
			]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	client := httpclient.Wrap(server.Client(), httpclient.Options{Timeout: 5 * time.Second})
	duckling, err := NewDucklingClient(server.URL+"/", client, 2)
	require.NoError(t, err)

	results, err := duckling.ExtractMultiple(context.Background(),
		[]string{"2 nuits à 30 euros", "rien", "entre 2 et 4 jours"}, "fr")
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Len(t, results[0], 2, "latent matches are dropped")
	assert.Equal(t, "number", results[0][0].Type)
	assert.Equal(t, "2", results[0][0].Value)
	assert.Equal(t, "amount-of-money", results[0][1].Type)
	assert.Equal(t, "30", results[0][1].Value)
	assert.Equal(t, "EUR", results[0][1].Unit)
	assert.Equal(t, 10, results[0][1].Start)
	assert.Equal(t, 18, results[0][1].End)

	assert.Empty(t, results[1])

	require.Len(t, results[2], 1)
	assert.Equal(t, "2/4", results[2][0].Value)
	assert.Equal(t, "day", results[2][0].Unit)
}

func TestDucklingClientFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := httpclient.Wrap(server.Client(), httpclient.Options{MaxRetries: 1})
	duckling, err := NewDucklingClient(server.URL, client, 0)
	require.NoError(t, err)

	_, err = duckling.ExtractMultiple(context.Background(), []string{"tomorrow"}, "en")
	assert.Error(t, err)
}

func TestDucklingLocale(t *testing.T) {
	assert.Equal(t, "en_US", ducklingLocale("en"))
	assert.Equal(t, "pt_BR", ducklingLocale("pt"))
	assert.Equal(t, "ru_RU", ducklingLocale("ru"))
}

func TestDucklingClientRejectsBadURL(t *testing.T) {
	client := httpclient.New(httpclient.Options{})
	_, err := NewDucklingClient("ftp://duckling", client, 1)
	assert.Error(t, err)
}
