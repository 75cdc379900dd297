package fichub

import (
	"strings"

	"fichub_metadata/internal/domain"
)

// extendedFields is the secondary field group shared by both API shapes.
type extendedFields struct {
	Rated      *string
	Language   *string
	Genre      *string
	Characters *string
	Reviews    domain.Count
	Favorites  domain.Count
	Follows    domain.Count
	Fandom     *string

	// Unparsed maps a counter column to text that is not a number, such as
	// "1.2k". Those counters are stored as null.
	Unparsed map[string]string
}

func (f *extendedFields) parseCount(column, raw string) domain.Count {
	c, ok := domain.ParseCount(raw)
	if !ok && strings.TrimSpace(raw) != "" {
		if f.Unparsed == nil {
			f.Unparsed = make(map[string]string)
		}
		f.Unparsed[column] = raw
	}
	return c
}

// extendedSource is one of structuredMeta, summaryMeta or noExtendedMeta.
type extendedSource interface {
	fields() extendedFields
}

// selectExtended picks the extraction strategy for a response. The
// structured object wins when both shapes are present.
func selectExtended(m *APIMeta) extendedSource {
	if m.RawExtendedMeta != nil {
		return structuredMeta(m.RawExtendedMeta)
	}
	if m.ExtraMeta != nil && strings.TrimSpace(*m.ExtraMeta) != "" {
		return summaryMeta(*m.ExtraMeta)
	}
	return noExtendedMeta{}
}

type noExtendedMeta struct{}

func (noExtendedMeta) fields() extendedFields { return extendedFields{} }

// structuredMeta is the decoded rawExtendedMeta object.
type structuredMeta map[string]any

func (m structuredMeta) fields() extendedFields {
	f := extendedFields{
		Rated:      m.str("", "rated"),
		Language:   m.str("", "language"),
		Genre:      m.str("/", "genres", "genre"),
		Characters: m.str(", ", "characters"),
		Fandom:     m.str(", ", "raw_fandom", "fandom"),
	}
	f.Reviews = m.count(&f, "reviews", "reviews")
	f.Favorites = m.count(&f, "favorites", "favorites", "favs")
	f.Follows = m.count(&f, "follows", "follows")
	return f
}

func (m structuredMeta) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// str returns the first present key as a string; lists are joined with sep.
func (m structuredMeta) str(sep string, keys ...string) *string {
	v, ok := m.lookup(keys...)
	if !ok {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = formatNumber(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case float64:
				parts = append(parts, formatNumber(it))
			}
		}
		s = strings.Join(parts, sep)
	default:
		return nil
	}
	return &s
}

func (m structuredMeta) count(f *extendedFields, column string, keys ...string) domain.Count {
	v, ok := m.lookup(keys...)
	if !ok {
		return domain.Count{}
	}
	switch t := v.(type) {
	case float64:
		return domain.NewCount(int64(t))
	case string:
		return f.parseCount(column, t)
	}
	return domain.Count{}
}

// summaryMeta is the extraMeta string, e.g.
// "Rated: T - Language: English - Genre: Angst - Reviews: 1,024".
type summaryMeta string

const (
	labelRated      = "Rated:"
	labelLanguage   = "Language:"
	labelGenre      = "Genre:"
	labelCharacters = "Characters:"
	labelReviews    = "Reviews:"
	labelFavs       = "Favs:"
	labelFollows    = "Follows:"
)

var summaryLabels = []string{
	labelRated, labelLanguage, labelGenre, labelCharacters,
	labelReviews, labelFavs, labelFollows,
}

const summarySeparator = " - "

func (s summaryMeta) fields() extendedFields {
	values := make(map[string]string, len(summaryLabels))
	for _, segment := range strings.Split(string(s), summarySeparator) {
		segment = strings.TrimSpace(segment)
		for _, label := range summaryLabels {
			if !strings.HasPrefix(segment, label) {
				continue
			}
			if _, seen := values[label]; !seen {
				values[label] = strings.TrimSpace(strings.TrimPrefix(segment, label))
			}
			break
		}
	}

	text := func(label string) *string {
		v, ok := values[label]
		if !ok {
			return nil
		}
		return &v
	}
	f := extendedFields{
		Rated:      text(labelRated),
		Language:   text(labelLanguage),
		Genre:      text(labelGenre),
		Characters: text(labelCharacters),
	}
	count := func(column, label string) domain.Count {
		v, ok := values[label]
		if !ok {
			return domain.Count{}
		}
		return f.parseCount(column, v)
	}
	f.Reviews = count("reviews", labelReviews)
	f.Favorites = count("favorites", labelFavs)
	f.Follows = count("follows", labelFollows)
	return f
}
