package domain

import "time"

// ExternalContent 是内容提供方返回的原始记录。
type ExternalContent struct {
	ExternalID  string
	Title       string
	ImageRef    string
	Summary     string
	GenreIDs    []int
	ReleaseDate string // YYYY-MM-DD，可能为空
	RatingAvg   float64
}

// CachedItem 是房间候选列表中的一个条目，每个条目自带 TTL。
type CachedItem struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	ImageRef string    `json:"image_ref"`
	Summary  string    `json:"summary"`
	Genres   []string  `json:"genres"`
	Year     *int      `json:"year,omitempty"`
	Rating   *float64  `json:"rating,omitempty"`
	CachedAt time.Time `json:"cached_at"`
	TTL      time.Time `json:"ttl"`
}

// CachedContentSet 是某个房间缓存的候选列表，刷新时整体替换。
type CachedContentSet struct {
	RoomID       string       `json:"room_id"`
	Items        []CachedItem `json:"items"`
	GenreFilters []int        `json:"genre_filters"`
	CachedAt     time.Time    `json:"cached_at"`
	TTL          time.Time    `json:"ttl"`
}

// Fresh 在读取时判断缓存是否仍可信，没有后台淘汰。
func (s *CachedContentSet) Fresh(now time.Time) bool {
	return now.Before(s.TTL)
}
