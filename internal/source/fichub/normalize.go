package fichub

import (
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/go-strftime"

	"fichub_metadata/internal/domain"
)

// UpdatedLayout is the layout of the API's "updated" timestamp.
const UpdatedLayout = "2006-01-02T15:04:05"

var (
	ErrMissingField       = errors.New("missing required field")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)

// Normalize flattens an API meta object into a storage record.
// ficTimeFormat is the strftime pattern for fic_last_updated.
// DBLastUpdated is left unset; the store owns local write times.
func Normalize(meta *APIMeta, ficTimeFormat string) (*domain.Metadata, error) {
	m, _, err := normalize(meta, ficTimeFormat)
	return m, err
}

// normalize is Normalize that also returns the extended fields, so callers
// can report counters that were dropped.
func normalize(meta *APIMeta, ficTimeFormat string) (*domain.Metadata, extendedFields, error) {
	if meta == nil {
		return nil, extendedFields{}, ErrNoMetadata
	}
	if err := checkRequired(meta); err != nil {
		return nil, extendedFields{}, err
	}

	updated, err := time.Parse(UpdatedLayout, *meta.Updated)
	if err != nil {
		return nil, extendedFields{}, fmt.Errorf("%w: updated %q", ErrMalformedTimestamp, *meta.Updated)
	}

	ext := selectExtended(meta).fields()

	return &domain.Metadata{
		ExternalID:     meta.ID.ptr(),
		Title:          *meta.Title,
		Author:         *meta.Author,
		AuthorID:       meta.AuthorLocalID.ptr(),
		AuthorURL:      meta.AuthorURL,
		Chapters:       *meta.Chapters,
		Created:        *meta.Created,
		Description:    *meta.Description,
		Rated:          ext.Rated,
		Language:       ext.Language,
		Genre:          ext.Genre,
		Characters:     ext.Characters,
		Reviews:        ext.Reviews,
		Favorites:      ext.Favorites,
		Follows:        ext.Follows,
		Status:         *meta.Status,
		Words:          *meta.Words,
		Fandom:         ext.Fandom,
		FicLastUpdated: strftime.Format(ficTimeFormat, updated),
		Source:         *meta.Source,
	}, ext, nil
}

func checkRequired(meta *APIMeta) error {
	required := []struct {
		name    string
		present bool
	}{
		{"title", meta.Title != nil},
		{"author", meta.Author != nil},
		{"chapters", meta.Chapters != nil},
		{"created", meta.Created != nil},
		{"description", meta.Description != nil},
		{"status", meta.Status != nil},
		{"words", meta.Words != nil},
		{"source", meta.Source != nil},
		{"updated", meta.Updated != nil},
	}
	for _, f := range required {
		if !f.present {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	return nil
}
