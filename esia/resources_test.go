package esia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esiaclient/errors"
)

// personServer serves /rs/prns/{oid} and its collections from a routing table.
func personServer(t *testing.T, routes map[string]http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	r := chi.NewRouter()
	for path, h := range routes {
		r.Get(path, h)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		r.ServeHTTP(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func jsonHandler(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, v)
	}
}

func sessionConfig(portal string) Config {
	cfg := testConfig(portal)
	cfg.OID = "1000299654"
	cfg.Token = "access-token"
	return cfg
}

func TestPersonInfo(t *testing.T) {
	var auth string
	srv, _ := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654": func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, map[string]any{"firstName": "Иван", "trusted": true, "rIdDoc": 1234567})
		},
	})
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	info, err := c.PersonInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-token", auth)
	assert.Equal(t, "Иван", info["firstName"])
	assert.Equal(t, true, info["trusted"])
	assert.Equal(t, json.Number("1234567"), info["rIdDoc"])
}

func TestFetchersRequireOID(t *testing.T) {
	srv, hits := personServer(t, nil)
	c, _ := newTestClient(t, testConfig(srv.URL+"/"))
	ctx := context.Background()

	_, err := c.PersonInfo(ctx)
	requireKind(t, err, errors.ErrConfiguration)
	for _, fetch := range []func(context.Context) (Collection, error){c.ContactInfo, c.AddressInfo, c.DocInfo, c.VehicleInfo, c.KidsInfo} {
		_, err := fetch(ctx)
		requireKind(t, err, errors.ErrConfiguration)
	}
	assert.Zero(t, hits.Load())
}

func TestCollectionsResolveElementsInOrder(t *testing.T) {
	for _, tc := range []struct {
		suffix string
		fetch  func(*Client) func(context.Context) (Collection, error)
	}{
		{ContactsPath, func(c *Client) func(context.Context) (Collection, error) { return c.ContactInfo }},
		{AddressesPath, func(c *Client) func(context.Context) (Collection, error) { return c.AddressInfo }},
		{DocumentsPath, func(c *Client) func(context.Context) (Collection, error) { return c.DocInfo }},
	} {
		t.Run(tc.suffix, func(t *testing.T) {
			var base string
			srv, hits := personServer(t, map[string]http.HandlerFunc{
				"/rs/prns/1000299654/" + tc.suffix: func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusOK, map[string]any{
						"size":     2,
						"elements": []string{base + "/rs/prns/1000299654/" + tc.suffix + "/1", base + "/rs/prns/1000299654/" + tc.suffix + "/2"},
					})
				},
				"/rs/prns/1000299654/" + tc.suffix + "/1": func(w http.ResponseWriter, r *http.Request) {
					// The first element answers last.
					time.Sleep(30 * time.Millisecond)
					writeJSON(w, http.StatusOK, map[string]any{"phone": "555 555 555"})
				},
				"/rs/prns/1000299654/" + tc.suffix + "/2": jsonHandler(map[string]any{"email": "test@gmail.com"}),
			})
			base = srv.URL

			c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))
			coll, err := tc.fetch(c)(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []any{
				map[string]any{"phone": "555 555 555"},
				map[string]any{"email": "test@gmail.com"},
			}, coll.Elements)
			assert.Equal(t, int32(3), hits.Load())
		})
	}
}

func TestCollectionRelativeElementURLs(t *testing.T) {
	srv, _ := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654/ctts":    jsonHandler(map[string]any{"size": "1", "elements": []string{"/rs/prns/1000299654/ctts/14"}}),
		"/rs/prns/1000299654/ctts/14": jsonHandler(map[string]any{"type": "EML", "value": "a@b.ru"}),
	})
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	coll, err := c.ContactInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, coll.Elements, 1)
	assert.Equal(t, map[string]any{"type": "EML", "value": "a@b.ru"}, coll.Elements[0])
}

func TestCollectionWithoutElementsIsReturnedRaw(t *testing.T) {
	raw := map[string]any{"stateFacts": []any{"hasSize"}, "size": 0, "elements": []any{}}
	srv, hits := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654/docs": jsonHandler(raw),
	})
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	coll, err := c.DocInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, coll.Elements)
	assert.Equal(t, map[string]any{"stateFacts": []any{"hasSize"}, "size": json.Number("0"), "elements": []any{}}, coll.Raw)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCollectionWithoutSizeIsReturnedRaw(t *testing.T) {
	srv, hits := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654/ctts": jsonHandler(map[string]any{"elements": []any{"/rs/prns/1000299654/ctts/1"}}),
	})
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	coll, err := c.ContactInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, coll.Elements)
	assert.Equal(t, map[string]any{"elements": []any{"/rs/prns/1000299654/ctts/1"}}, coll.Raw)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCollectionElementFailureFailsFast(t *testing.T) {
	var base string
	srv, _ := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654/addrs": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"size": 2, "elements": []string{base + "/slow", base + "/denied"}})
		},
		"/slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
				writeJSON(w, http.StatusOK, map[string]any{})
			}
		},
		"/denied": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})
	base = srv.URL
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	start := time.Now()
	_, err := c.AddressInfo(context.Background())
	requireKind(t, err, errors.ErrForbidden)
	assert.Less(t, time.Since(start), 4*time.Second, "remaining fetches must be cancelled")
}

func TestCollectionConcurrencyLimit(t *testing.T) {
	const elements = 8
	var base string
	var inFlight, peak atomic.Int32
	routes := map[string]http.HandlerFunc{
		"/rs/prns/1000299654/ctts": func(w http.ResponseWriter, r *http.Request) {
			urls := make([]string, elements)
			for i := range urls {
				urls[i] = fmt.Sprintf("%s/e/%d", base, i)
			}
			writeJSON(w, http.StatusOK, map[string]any{"size": elements, "elements": urls})
		},
		"/e/{id}": func(w http.ResponseWriter, r *http.Request) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "id")})
		},
	}
	srv, _ := personServer(t, routes)
	base = srv.URL

	cfg := sessionConfig(srv.URL + "/")
	cfg.Concurrency = 2
	c, _ := newTestClient(t, cfg)

	coll, err := c.ContactInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, coll.Elements, elements)
	for i, e := range coll.Elements {
		assert.Equal(t, map[string]any{"id": fmt.Sprint(i)}, e)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPersonInfoForbidden(t *testing.T) {
	srv, _ := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
	})
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	_, err := c.PersonInfo(context.Background())
	requireKind(t, err, errors.ErrForbidden)
}

// unreadableForbidden answers every request with a 403 whose body fails to read.
type unreadableForbidden struct{}

func (unreadableForbidden) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusForbidden,
		Header:     http.Header{},
		Body:       io.NopCloser(iotest.ErrReader(io.ErrUnexpectedEOF)),
		Request:    req,
	}, nil
}

func TestPersonInfoForbiddenWithUnreadableBody(t *testing.T) {
	c, _ := newTestClient(t, sessionConfig("https://esia.example.test/"), WithHTTPClient(unreadableForbidden{}))

	_, err := c.PersonInfo(context.Background())
	requireKind(t, err, errors.ErrForbidden)
	assert.Equal(t, http.StatusForbidden, errors.StatusCode(err))
}

func TestPersonInfoRejectsNonObject(t *testing.T) {
	srv, _ := personServer(t, map[string]http.HandlerFunc{
		"/rs/prns/1000299654": jsonHandler([]any{map[string]any{"firstName": "Иван"}}),
	})
	c, _ := newTestClient(t, sessionConfig(srv.URL+"/"))

	_, err := c.PersonInfo(context.Background())
	requireKind(t, err, errors.ErrRequestFailed)
}
