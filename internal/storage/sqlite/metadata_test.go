package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fichub_metadata/internal/domain"
	"fichub_metadata/internal/testutil"
)

type MetadataStoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	db    *DB
	store *MetadataStore
	now   time.Time
}

func (s *MetadataStoreTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := Open(s.ctx, filepath.Join(s.T().TempDir(), "meta.sqlite"))
	s.Require().NoError(err)
	s.Require().NoError(db.EnsureSchema(s.ctx))
	s.db = db

	s.now = time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	s.store = NewMetadataStore(db, "%Y-%m-%d %H:%M:%S").WithClock(func() time.Time { return s.now })
}

func (s *MetadataStoreTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestMetadataStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MetadataStoreTestSuite))
}

func newMetadata(source, title string) *domain.Metadata {
	return &domain.Metadata{
		ExternalID:     testutil.Ptr("abc123"),
		Title:          title,
		Author:         "Author",
		AuthorID:       testutil.Ptr("42"),
		Chapters:       3,
		Created:        "2020-01-01",
		Description:    "<p>desc</p>",
		Rated:          testutil.Ptr("T"),
		Language:       testutil.Ptr("English"),
		Reviews:        domain.NewCount(1234),
		Favorites:      domain.NewCount(56),
		Status:         "ongoing",
		Words:          12000,
		FicLastUpdated: "2021-02-03",
		Source:         source,
	}
}

func (s *MetadataStoreTestSuite) TestInsert_AssignsID() {
	m := newMetadata("https://archiveofourown.org/works/1", "One")

	id, err := s.store.Insert(s.ctx, m)
	s.Require().NoError(err)
	s.Greater(id, int64(0))
	s.Equal(id, m.ID)

	exists, err := s.store.Exists(s.ctx, m.Source)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *MetadataStoreTestSuite) TestInsert_Duplicate() {
	m := newMetadata("https://archiveofourown.org/works/1", "One")
	_, err := s.store.Insert(s.ctx, m)
	s.Require().NoError(err)

	_, err = s.store.Insert(s.ctx, newMetadata(m.Source, "Again"))
	s.ErrorIs(err, ErrDuplicate)

	n, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *MetadataStoreTestSuite) TestUpsert_CreatesThenOverwrites() {
	source := "https://www.fanfiction.net/s/123"

	id, created, err := s.store.Upsert(s.ctx, newMetadata(source, "Old title"))
	s.Require().NoError(err)
	s.True(created)

	rows, err := s.store.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Nil(rows[0].DBLastUpdated)

	updated := newMetadata(source, "New title")
	updated.Chapters = 4
	updated.Reviews = domain.Count{}

	id2, created, err := s.store.Upsert(s.ctx, updated)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(id, id2)

	rows, err = s.store.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)

	got := rows[0]
	s.Equal(id, got.ID)
	s.Equal(source, got.Source)
	s.Equal("New title", got.Title)
	s.Equal(int64(4), got.Chapters)
	s.False(got.Reviews.Valid)
	s.Require().NotNil(got.DBLastUpdated)
	s.Equal("2024-03-09 14:05:06", *got.DBLastUpdated)
}

func (s *MetadataStoreTestSuite) TestUpsert_AdvancesDBLastUpdated() {
	source := "https://www.royalroad.com/fiction/9"
	_, _, err := s.store.Upsert(s.ctx, newMetadata(source, "T"))
	s.Require().NoError(err)

	_, _, err = s.store.Upsert(s.ctx, newMetadata(source, "T"))
	s.Require().NoError(err)

	s.now = s.now.Add(48 * time.Hour)
	_, _, err = s.store.Upsert(s.ctx, newMetadata(source, "T"))
	s.Require().NoError(err)

	rows, err := s.store.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("2024-03-11 14:05:06", *rows[0].DBLastUpdated)
}

func (s *MetadataStoreTestSuite) TestAll_OrderedByID() {
	for _, src := range []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"} {
		_, err := s.store.Insert(s.ctx, newMetadata(src, src))
		s.Require().NoError(err)
	}

	rows, err := s.store.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 3)
	s.Equal("https://a.example/1", rows[0].Source)
	s.Equal("https://a.example/3", rows[2].Source)
	s.Equal(int64(1234), rows[0].Reviews.N)
	s.Equal("abc123", *rows[0].ExternalID)
}

func (s *MetadataStoreTestSuite) TestAll_ReadsLegacyTextCounters() {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO fichub_metadata (title, author, chapters, created, description, reviews, favorites, follows, status, words, fic_last_updated, source)
		 VALUES ('T', 'A', 1, 'c', 'd', '1,234', '', NULL, 'complete', 10, 'u', 'https://a.example/legacy')`)
	s.Require().NoError(err)

	rows, err := s.store.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(domain.NewCount(1234), rows[0].Reviews)
	s.False(rows[0].Favorites.Valid)
	s.False(rows[0].Follows.Valid)
}

func (s *MetadataStoreTestSuite) TestAll_NullRequiredColumnNamesRow() {
	_, err := s.store.Insert(s.ctx, newMetadata("https://a.example/ok", "Fine"))
	s.Require().NoError(err)
	_, err = s.db.ExecContext(s.ctx,
		`INSERT INTO fichub_metadata (title, author, chapters, created, description, status, words, fic_last_updated, source)
		 VALUES (NULL, 'A', 1, 'c', 'd', 'complete', 10, 'u', 'https://a.example/null-title')`)
	s.Require().NoError(err)

	_, err = s.store.All(s.ctx)
	s.Require().ErrorIs(err, ErrUnreadableRow)
	s.NotErrorIs(err, ErrStoreNotFound)
	s.Contains(err.Error(), "id 2")
	s.Contains(err.Error(), `"title"`)
}

func (s *MetadataStoreTestSuite) TestAll_MissingTable() {
	_, err := s.db.ExecContext(s.ctx, "DROP TABLE fichub_metadata")
	s.Require().NoError(err)

	_, err = s.store.All(s.ctx)
	s.ErrorIs(err, ErrStoreNotFound)
}

func (s *MetadataStoreTestSuite) TestUpsert_RollsBackOnCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, _, err := s.store.Upsert(ctx, newMetadata("https://a.example/x", "X"))
	s.Error(err)

	n, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}
