package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/framebucket/framebucket/internal/index"
)

type fakeUploadStore struct {
	puts map[string][]byte
	fail bool
}

func (f *fakeUploadStore) Put(key string, data []byte, _ string) error {
	if f.fail {
		return errUploadFailed
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errUploadFailed = testErr("simulated upload failure")

func newTestServer(t *testing.T) (*Server, *fakeUploadStore) {
	t.Helper()
	dbDir := t.TempDir()
	dbs := map[string]*index.DB{}

	opener := func(robotID string) (*index.DB, error) {
		if db, ok := dbs[robotID]; ok {
			return db, nil
		}
		db, err := index.Open(dbDir, robotID)
		if err != nil {
			return nil, err
		}
		dbs[robotID] = db
		t.Cleanup(func() { db.Close() })
		return db, nil
	}

	upload := &fakeUploadStore{}
	cfg := Config{DBDir: dbDir, RustfsPublicURL: "http://local.store", RustfsBucket: "cam", LabelledDataBucket: "labels"}
	logger := log.New(os.Stderr, "", 0)
	return New(cfg, opener, upload, logger), upload
}

func TestListRobotsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/robots", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSegmentNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/robots/r1/segments/999", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCollectionAndDuplicate(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"name": "demo"})
	req := httptest.NewRequest(http.MethodPost, "/robots/r1/collections", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/robots/r1/collections", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestCreateClipRejectsEmptySegmentIDs(t *testing.T) {
	s, _ := newTestServer(t)

	colBody, _ := json.Marshal(map[string]string{"name": "demo2"})
	req := httptest.NewRequest(http.MethodPost, "/robots/r1/collections", bytes.NewReader(colBody))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var col index.Collection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &col))

	clipBody, _ := json.Marshal(map[string]any{"segment_ids": []int64{}})
	req2 := httptest.NewRequest(http.MethodPost, "/robots/r1/collections/"+strconv.FormatInt(col.ID, 10)+"/clips", bytes.NewReader(clipBody))
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusBadRequest, rec2.Code)
}
