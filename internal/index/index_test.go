package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), "robot-test")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndListSegments(t *testing.T) {
	db := openTestDB(t)

	_, err := db.InsertIdle(1000, 2000, "r/camera/2026-07-29/a.jpg", 512)
	require.NoError(t, err)
	_, err = db.InsertActive(2000, 5000, "r/camera/2026-07-29/b.mp4", 40960, 150)
	require.NoError(t, err)

	segs, err := db.ListSegments(SegmentFilter{})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, int64(1000), segs[0].StartMs)
}

func TestListSegmentsPartialFilterDoesNotMisbindParams(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertIdle(1000, 2000, "k1", 1)
	require.NoError(t, err)
	_, err = db.InsertActive(3000, 4000, "k2", 1, 1)
	require.NoError(t, err)

	// Only end_ms set; start_ms and type are omitted. A positional
	// scheme that always binds ?2/?3/?4 regardless of clause presence
	// breaks here because the statement only has one free parameter.
	segs, err := db.ListSegments(SegmentFilter{EndMs: 2500, HasEnd: true})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "k1", segs[0].S3Key)

	segs, err = db.ListSegments(SegmentFilter{Type: "active", HasType: true})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "k2", segs[0].S3Key)
}

func TestCollectionLifecycle(t *testing.T) {
	db := openTestDB(t)

	id, err := db.CreateCollection("demo", "desc", 100)
	require.NoError(t, err)

	_, err = db.CreateCollection("demo", "desc2", 200)
	require.ErrorIs(t, err, ErrDuplicateName)

	col, err := db.GetCollection(id)
	require.NoError(t, err)
	require.NotNil(t, col)
	require.Equal(t, "demo", col.Name)

	ok, err := db.DeleteCollection(id)
	require.NoError(t, err)
	require.True(t, ok)

	col, err = db.GetCollection(id)
	require.NoError(t, err)
	require.Nil(t, col)
}

func TestClipCreateCascadesOnCollectionDelete(t *testing.T) {
	db := openTestDB(t)

	segID, err := db.InsertIdle(1000, 2000, "k1", 1)
	require.NoError(t, err)
	colID, err := db.CreateCollection("demo", "", 100)
	require.NoError(t, err)

	clipID, err := db.CreateClip(colID, "camera", 1000, 2000, []int64{segID}, "r1/demo/1000_2000.json", 150)
	require.NoError(t, err)

	clips, err := db.ListClips(colID)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	require.Equal(t, clipID, clips[0].ID)

	col, err := db.GetCollection(colID)
	require.NoError(t, err)
	require.Equal(t, int64(150), col.UpdatedAt)

	_, err = db.DeleteCollection(colID)
	require.NoError(t, err)

	clips, err = db.ListClips(colID)
	require.NoError(t, err)
	require.Empty(t, clips)
}

func TestUpdateLabels(t *testing.T) {
	db := openTestDB(t)
	id, err := db.InsertIdle(1000, 2000, "k1", 1)
	require.NoError(t, err)

	ok, err := db.UpdateLabels(id, []string{"person", "box"})
	require.NoError(t, err)
	require.True(t, ok)

	seg, err := db.GetSegment(id)
	require.NoError(t, err)
	require.Equal(t, []string{"person", "box"}, seg.Labels)

	ok, err = db.UpdateLabels(id+1000, []string{"x"})
	require.NoError(t, err)
	require.False(t, ok)
}
