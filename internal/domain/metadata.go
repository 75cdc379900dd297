package domain

// Metadata is one story's metadata, keyed by Source.
type Metadata struct {
	ID             int64   `db:"id" json:"id"`
	ExternalID     *string `db:"fichub_id" json:"fichub_id"`
	Title          string  `db:"title" json:"title"`
	Author         string  `db:"author" json:"author"`
	AuthorID       *string `db:"author_id" json:"author_id"`
	AuthorURL      *string `db:"author_url" json:"author_url"`
	Chapters       int64   `db:"chapters" json:"chapters"`
	Created        string  `db:"created" json:"created"`
	Description    string  `db:"description" json:"description"`
	Rated          *string `db:"rated" json:"rated"`
	Language       *string `db:"language" json:"language"`
	Genre          *string `db:"genre" json:"genre"`
	Characters     *string `db:"characters" json:"characters"`
	Reviews        Count   `db:"reviews" json:"reviews"`
	Favorites      Count   `db:"favorites" json:"favorites"`
	Follows        Count   `db:"follows" json:"follows"`
	Status         string  `db:"status" json:"status"`
	Words          int64   `db:"words" json:"words"`
	Fandom         *string `db:"fandom" json:"fandom"`
	FicLastUpdated string  `db:"fic_last_updated" json:"fic_last_updated"`
	DBLastUpdated  *string `db:"db_last_updated" json:"db_last_updated"` // local write time, set on update only
	Source         string  `db:"source" json:"source"`
}
