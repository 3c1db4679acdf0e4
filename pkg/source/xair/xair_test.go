package xair

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/source"
)

func testWindow() measure.Window {
	return measure.Window{
		Start: civil.Date{Year: 2017, Month: time.June, Day: 1},
		End:   civil.Date{Year: 2017, Month: time.June, Day: 2},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{"http", "http://172.16.29.33", false},
		{"https with path", "https://xr.example.org/api/", false},
		{"no scheme", "172.16.29.33", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{Endpoint: tt.endpoint})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 60*time.Second, c.client.Timeout)
		})
	}
}

func TestClient_FetchHourly(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mesures":[
			{"date":"2017-06-01T00:00:00Z","valeur":12.5,"etat":"A"},
			{"date":"2017-06-01T01:00:00Z","valeur":null,"etat":"N"},
			{"date":"2017-06-01T02:00:00+02:00","valeur":100001,"etat":"A"}
		]}`))
	}))
	defer server.Close()

	c, err := New(Config{Endpoint: server.URL + "/", User: "MC", Password: "pw", Base: "N"})
	require.NoError(t, err)
	defer c.Close()

	fetch, err := c.Fetch(context.Background(), source.Request{
		Identifier:  "O3_BAL",
		Window:      testWindow(),
		Granularity: measure.Hourly,
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/mesures", got.URL.Path)
	assert.Equal(t, "O3_BAL", got.URL.Query().Get("mes"))
	assert.Equal(t, "2017-06-01", got.URL.Query().Get("debut"))
	assert.Equal(t, "2017-06-02", got.URL.Query().Get("fin"))
	assert.Equal(t, "H", got.URL.Query().Get("freq"))
	assert.Equal(t, "N", got.URL.Query().Get("base"))
	user, pass, ok := got.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "MC", user)
	assert.Equal(t, "pw", pass)

	require.Len(t, fetch.Values, 3)
	require.Len(t, fetch.Codes, 3)
	assert.Equal(t, null.FloatFrom(12.5), fetch.Values[0].Value)
	assert.False(t, fetch.Values[1].Value.Valid)
	assert.Equal(t, null.FloatFrom(100001), fetch.Values[2].Value, "sentinels are left to the sanitizer")
	assert.True(t, fetch.Values[2].At.Equal(time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "N", fetch.Codes[1].Code)
	assert.Equal(t, fetch.Values[1].At, fetch.Codes[1].At)
}

func TestClient_FetchEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"mesures":[]}`))
	}))
	defer server.Close()

	c, err := New(Config{Endpoint: server.URL})
	require.NoError(t, err)

	fetch, err := c.Fetch(context.Background(), source.Request{Identifier: "CO_HAL", Window: testWindow(), Granularity: measure.Hourly})
	require.NoError(t, err)
	assert.True(t, fetch.Empty())
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"not found", http.StatusNotFound, ""},
		{"bad json", http.StatusOK, `{"mesures":`},
		{"bad date", http.StatusOK, `{"mesures":[{"date":"yesterday","valeur":1,"etat":"A"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := New(Config{Endpoint: server.URL})
			require.NoError(t, err)

			_, err = c.Fetch(context.Background(), source.Request{Identifier: "NO2BAL", Window: testWindow(), Granularity: measure.Daily})
			assert.Error(t, err)
		})
	}
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	c, err := New(Config{Endpoint: server.URL})
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))

	server.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c, err := New(Config{Endpoint: server.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
