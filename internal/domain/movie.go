package domain

// Page is the envelope returned by every paginated catalogue endpoint.
type Page[T any] struct {
	Page         int `json:"page"`
	Results      []T `json:"results"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
}

// Movie is the list representation of a catalogue movie. Image paths are
// relative and passed through untouched.
type Movie struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title,omitempty"`
	Overview         string  `json:"overview"`
	PosterPath       *string `json:"poster_path"`
	BackdropPath     *string `json:"backdrop_path"`
	ReleaseDate      string  `json:"release_date"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	Popularity       float64 `json:"popularity"`
	GenreIDs         []int   `json:"genre_ids,omitempty"`
	OriginalLanguage string  `json:"original_language"`
	Adult            bool    `json:"adult"`
	Video            bool    `json:"video"`
}

// Genre is a catalogue genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProductionCompany describes a studio credited on a movie.
type ProductionCompany struct {
	ID            int     `json:"id"`
	LogoPath      *string `json:"logo_path"`
	Name          string  `json:"name"`
	OriginCountry string  `json:"origin_country"`
}

// MovieDetails extends Movie with the detail-only fields.
type MovieDetails struct {
	Movie
	Genres              []Genre             `json:"genres"`
	Runtime             int                 `json:"runtime"`
	Budget              int64               `json:"budget"`
	Revenue             int64               `json:"revenue"`
	Status              string              `json:"status"`
	Tagline             *string             `json:"tagline"`
	Homepage            *string             `json:"homepage"`
	ProductionCompanies []ProductionCompany `json:"production_companies"`
}

// CastMember is a credited actor.
type CastMember struct {
	ID          int     `json:"id"`
	CastID      int     `json:"cast_id,omitempty"`
	Character   string  `json:"character"`
	CreditID    string  `json:"credit_id"`
	Gender      *int    `json:"gender"`
	Name        string  `json:"name"`
	Order       int     `json:"order"`
	ProfilePath *string `json:"profile_path"`
}

// CrewMember is a credited crew member.
type CrewMember struct {
	ID          int     `json:"id"`
	CreditID    string  `json:"credit_id"`
	Department  string  `json:"department"`
	Gender      *int    `json:"gender"`
	Job         string  `json:"job"`
	Name        string  `json:"name"`
	ProfilePath *string `json:"profile_path"`
}

// Credits is the cast and crew of a movie.
type Credits struct {
	ID   int          `json:"id"`
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// Person is the list representation of a catalogue person.
type Person struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	ProfilePath        *string `json:"profile_path"`
	Adult              bool    `json:"adult"`
	Popularity         float64 `json:"popularity"`
	KnownForDepartment string  `json:"known_for_department"`
}

// PersonDetails extends Person with biography fields.
type PersonDetails struct {
	Person
	AlsoKnownAs  []string `json:"also_known_as"`
	Biography    string   `json:"biography"`
	Birthday     *string  `json:"birthday"`
	Deathday     *string  `json:"deathday"`
	Gender       int      `json:"gender"`
	Homepage     *string  `json:"homepage"`
	IMDbID       string   `json:"imdb_id"`
	PlaceOfBirth *string  `json:"place_of_birth"`
}

// PersonCastCredit is a movie a person acted in.
type PersonCastCredit struct {
	Movie
	Character string `json:"character"`
	CreditID  string `json:"credit_id"`
}

// PersonCrewCredit is a movie a person worked on.
type PersonCrewCredit struct {
	Movie
	Department string `json:"department"`
	Job        string `json:"job"`
	CreditID   string `json:"credit_id"`
}

// PersonCredits lists a person's movie credits.
type PersonCredits struct {
	ID   int                `json:"id"`
	Cast []PersonCastCredit `json:"cast"`
	Crew []PersonCrewCredit `json:"crew"`
}
