// Package tmdb 实现基于 TMDB discover 接口的内容提供方。
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"
	imageBaseURL   = "https://image.tmdb.org/t/p/w500"
)

// Client 调用 TMDB discover 接口
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 创建 TMDB 客户端，baseURL 为空时使用官方地址
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type discoverResponse struct {
	Results []struct {
		ID          int64   `json:"id"`
		Title       string  `json:"title"`
		PosterPath  string  `json:"poster_path"`
		Overview    string  `json:"overview"`
		GenreIDs    []int   `json:"genre_ids"`
		ReleaseDate string  `json:"release_date"`
		VoteAverage float64 `json:"vote_average"`
	} `json:"results"`
}

// FetchByFilter 按类型过滤拉取热门电影，过滤为空时不限类型
func (c *Client) FetchByFilter(ctx context.Context, genreIDs []int) ([]domain.ExternalContent, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	if len(genreIDs) > 0 {
		ids := make([]string, len(genreIDs))
		for i, id := range genreIDs {
			ids[i] = strconv.Itoa(id)
		}
		q.Set("with_genres", strings.Join(ids, ","))
	}
	q.Set("sort_by", "popularity.desc")
	q.Set("page", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/discover/movie?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("tmdb: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tmdb: discover request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logrus.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"genres": genreIDs,
		}).Warn("TMDB discover returned non-2xx")
		return nil, fmt.Errorf("tmdb: discover returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tmdb: decode discover response: %w", err)
	}

	out := make([]domain.ExternalContent, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		item := domain.ExternalContent{
			ExternalID:  strconv.FormatInt(r.ID, 10),
			Title:       r.Title,
			Summary:     r.Overview,
			GenreIDs:    r.GenreIDs,
			ReleaseDate: r.ReleaseDate,
			RatingAvg:   r.VoteAverage,
		}
		if r.PosterPath != "" {
			item.ImageRef = imageBaseURL + r.PosterPath
		}
		out = append(out, item)
	}
	return out, nil
}
