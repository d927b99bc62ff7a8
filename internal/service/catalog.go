package service

const unknownGenre = "Unknown"

// tmdbGenres 是 TMDB 电影类型 ID 到名称的固定映射。
var tmdbGenres = map[int]string{
	28:    "Action",
	12:    "Adventure",
	16:    "Animation",
	35:    "Comedy",
	80:    "Crime",
	99:    "Documentary",
	18:    "Drama",
	10751: "Family",
	14:    "Fantasy",
	36:    "History",
	27:    "Horror",
	10402: "Music",
	9648:  "Mystery",
	10749: "Romance",
	878:   "Science Fiction",
	10770: "TV Movie",
	53:    "Thriller",
	10752: "War",
	37:    "Western",
}

// GenreName 返回类型名称，未知 ID 返回 "Unknown"。
func GenreName(id int) string {
	if name, ok := tmdbGenres[id]; ok {
		return name
	}
	return unknownGenre
}

func genreNames(ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, GenreName(id))
	}
	return names
}

const popularGenre = "Popular"

type fallbackTitle struct {
	id    string
	title string
	year  int
}

// fallbackCatalog 是内容提供方不可用时使用的固定候选列表，顺序固定。
var fallbackCatalog = []fallbackTitle{
	{"fallback-278", "The Shawshank Redemption", 1994},
	{"fallback-238", "The Godfather", 1972},
	{"fallback-155", "The Dark Knight", 2008},
	{"fallback-680", "Pulp Fiction", 1994},
	{"fallback-13", "Forrest Gump", 1994},
	{"fallback-27205", "Inception", 2010},
	{"fallback-550", "Fight Club", 1999},
	{"fallback-603", "The Matrix", 1999},
	{"fallback-769", "GoodFellas", 1990},
	{"fallback-157336", "Interstellar", 2014},
	{"fallback-129", "Spirited Away", 2001},
	{"fallback-496243", "Parasite", 2019},
	{"fallback-98", "Gladiator", 2000},
	{"fallback-8587", "The Lion King", 1994},
	{"fallback-105", "Back to the Future", 1985},
	{"fallback-329", "Jurassic Park", 1993},
	{"fallback-597", "Titanic", 1997},
	{"fallback-862", "Toy Story", 1995},
	{"fallback-348", "Alien", 1979},
	{"fallback-194", "Amélie", 2001},
	{"fallback-244786", "Whiplash", 2014},
	{"fallback-354912", "Coco", 2017},
	{"fallback-14160", "Up", 2009},
	{"fallback-313369", "La La Land", 2016},
}
