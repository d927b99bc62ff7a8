package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchByFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/discover/movie", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "secret", q.Get("api_key"))
		assert.Equal(t, "28,35", q.Get("with_genres"))
		assert.Equal(t, "popularity.desc", q.Get("sort_by"))
		assert.Equal(t, "1", q.Get("page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"page":1,"results":[
			{"id":603,"title":"The Matrix","poster_path":"/m.jpg","overview":"Neo.","genre_ids":[28,878],"release_date":"1999-03-30","vote_average":8.2},
			{"id":604,"title":"No Poster","poster_path":null,"overview":"","genre_ids":[],"release_date":"","vote_average":0}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", srv.Client())
	got, err := c.FetchByFilter(context.Background(), []int{28, 35})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "603", got[0].ExternalID)
	assert.Equal(t, "The Matrix", got[0].Title)
	assert.Equal(t, "https://image.tmdb.org/t/p/w500/m.jpg", got[0].ImageRef)
	assert.Equal(t, "Neo.", got[0].Summary)
	assert.Equal(t, []int{28, 878}, got[0].GenreIDs)
	assert.Equal(t, "1999-03-30", got[0].ReleaseDate)
	assert.Equal(t, 8.2, got[0].RatingAvg)

	assert.Empty(t, got[1].ImageRef)
}

func TestClient_FetchByFilter_NoGenres(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.URL.Query()["with_genres"]
		assert.False(t, present)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "k", nil).FetchByFilter(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_FetchByFilter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"status_message":"Invalid API key"}`},
		{"server error", http.StatusBadGateway, "bad gateway"},
		{"malformed body", http.StatusOK, "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "k", nil).FetchByFilter(context.Background(), []int{28})
			assert.Error(t, err)
		})
	}
}
