package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type row struct {
	id      string
	created time.Time
}

func TestCursorRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeCursor(NewCursor("42", now))
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "42", cursor.ID)

	parsed, err := cursor.CreatedAtTime()
	require.NoError(t, err)
	require.True(t, parsed.Equal(now))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestBuildCursorPageInfo(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []*row{
		{id: "1", created: base},
		{id: "2", created: base.Add(time.Minute)},
		{id: "3", created: base.Add(2 * time.Minute)},
	}
	extract := func(r *row) Cursor { return NewCursor(r.id, r.created) }

	page, info := BuildCursorPageInfo(rows, 2, extract)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, "2", cursor.ID)

	page, info = BuildCursorPageInfo(rows, 5, extract)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestPaginationLimit(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	require.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}
