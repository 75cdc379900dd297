package fichub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fichub_metadata/internal/domain"
	"fichub_metadata/internal/testutil"
)

const ficFormat = "%d/%m/%Y %H:%M"

func decodeMeta(t *testing.T, raw string) *APIMeta {
	t.Helper()
	var meta APIMeta
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	return &meta
}

const baseMeta = `
	"id": "a1B2c3",
	"title": "The Long Road",
	"author": "someone",
	"authorLocalId": 4242,
	"authorUrl": "https://www.fanfiction.net/u/4242/someone",
	"chapters": 12,
	"created": "2019-03-01T10:00:00",
	"description": "<p>A story.</p>",
	"status": "complete",
	"updated": "2021-07-04T18:30:00",
	"words": 54321,
	"source": "https://www.fanfiction.net/s/123/1/"`

func TestNormalize_StructuredAndSummaryAgree(t *testing.T) {
	structured := decodeMeta(t, `{`+baseMeta+`,
		"rawExtendedMeta": {
			"rated": "T",
			"language": "English",
			"genres": ["Angst", "Romance"],
			"characters": ["Harry P.", "Hermione G."],
			"reviews": 1024,
			"favorites": "2,048",
			"follows": 77
		}}`)
	summary := decodeMeta(t, `{`+baseMeta+`,
		"extraMeta": "Rated: T - Language: English - Genre: Angst/Romance - Characters: Harry P., Hermione G. - Reviews: 1,024 - Favs: 2,048 - Follows: 77"}`)

	a, err := Normalize(structured, ficFormat)
	require.NoError(t, err)
	b, err := Normalize(summary, ficFormat)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "T", *a.Rated)
	assert.Equal(t, "Angst/Romance", *a.Genre)
	assert.Equal(t, "Harry P., Hermione G.", *a.Characters)
	assert.Equal(t, domain.NewCount(1024), a.Reviews)
	assert.Equal(t, domain.NewCount(2048), a.Favorites)
	assert.Equal(t, domain.NewCount(77), a.Follows)
}

func TestNormalize_PassesRequiredFieldsThrough(t *testing.T) {
	m, err := Normalize(decodeMeta(t, `{`+baseMeta+`}`), ficFormat)
	require.NoError(t, err)

	assert.Equal(t, "a1B2c3", *m.ExternalID)
	assert.Equal(t, "The Long Road", m.Title)
	assert.Equal(t, "4242", *m.AuthorID)
	assert.Equal(t, int64(12), m.Chapters)
	assert.Equal(t, "2019-03-01T10:00:00", m.Created)
	assert.Equal(t, "<p>A story.</p>", m.Description)
	assert.Equal(t, int64(54321), m.Words)
	assert.Equal(t, "04/07/2021 18:30", m.FicLastUpdated)
	assert.Equal(t, "https://www.fanfiction.net/s/123/1/", m.Source)
	assert.Nil(t, m.DBLastUpdated)
	assert.Zero(t, m.ID)
}

func TestNormalize_NoExtendedMeta(t *testing.T) {
	m, err := Normalize(decodeMeta(t, `{`+baseMeta+`, "rawExtendedMeta": null}`), ficFormat)
	require.NoError(t, err)

	assert.Nil(t, m.Rated)
	assert.Nil(t, m.Language)
	assert.Nil(t, m.Genre)
	assert.Nil(t, m.Characters)
	assert.False(t, m.Reviews.Valid)
	assert.False(t, m.Favorites.Valid)
	assert.False(t, m.Follows.Valid)
	assert.Nil(t, m.Fandom)
}

func TestNormalize_PartialExtendedMeta(t *testing.T) {
	m, err := Normalize(decodeMeta(t, `{`+baseMeta+`,
		"rawExtendedMeta": {"language": "French", "favs": 5, "raw_fandom": "Harry Potter"}}`), ficFormat)
	require.NoError(t, err)

	assert.Nil(t, m.Rated)
	assert.Equal(t, "French", *m.Language)
	assert.Equal(t, domain.NewCount(5), m.Favorites)
	assert.False(t, m.Reviews.Valid)
	assert.Equal(t, "Harry Potter", *m.Fandom)
}

func TestSummaryMeta_FirstMatchWinsAndAbsentIsNull(t *testing.T) {
	f := summaryMeta("Rated: M - English - Rated: K - Genre:  Humor  - Chapters: 3 - Status: In-Progress").fields()

	assert.Equal(t, "M", *f.Rated)
	assert.Equal(t, "Humor", *f.Genre)
	assert.Nil(t, f.Language)
	assert.Nil(t, f.Characters)
	assert.False(t, f.Follows.Valid)
}

func TestNormalize_MissingRequiredField(t *testing.T) {
	meta := decodeMeta(t, `{`+baseMeta+`}`)
	meta.Words = nil

	_, err := Normalize(meta, ficFormat)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "words")
}

func TestNormalize_MalformedTimestamp(t *testing.T) {
	meta := decodeMeta(t, `{`+baseMeta+`}`)
	meta.Updated = testutil.Ptr("04/07/2021")

	_, err := Normalize(meta, ficFormat)
	assert.ErrorIs(t, err, ErrMalformedTimestamp)
}

func TestNormalize_NilMeta(t *testing.T) {
	_, err := Normalize(nil, ficFormat)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestExtendedFields_UnparsedCounters(t *testing.T) {
	summary := summaryMeta("Reviews: 1.2k - Favs: 87 - Follows: ").fields()
	assert.False(t, summary.Reviews.Valid)
	assert.Equal(t, domain.NewCount(87), summary.Favorites)
	assert.False(t, summary.Follows.Valid)
	assert.Equal(t, map[string]string{"reviews": "1.2k"}, summary.Unparsed)

	structured := structuredMeta{"favs": "lots", "reviews": float64(3)}.fields()
	assert.Equal(t, domain.NewCount(3), structured.Reviews)
	assert.False(t, structured.Favorites.Valid)
	assert.Equal(t, map[string]string{"favorites": "lots"}, structured.Unparsed)

	clean := summaryMeta("Reviews: 1,024").fields()
	assert.Nil(t, clean.Unparsed)
}
