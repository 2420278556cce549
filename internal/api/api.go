// Package api implements the read-mostly HTTP query surface over the
// per-robot index, plus the two write paths (label patch, clip
// creation with manifest upload). CORS is permissive by design: any
// origin, method, and header.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/framebucket/framebucket/internal/index"
	"github.com/framebucket/framebucket/internal/workerpool"
)

// poolSize bounds how many index/filesystem operations run at once,
// so a burst of slow queries against one robot's SQLite file can't
// starve every other request of a goroutine.
const poolSize = 8

func nowMs() int64 { return time.Now().UnixMilli() }

// IndexOpener opens (or returns a cached) per-robot index connection.
// The consumer holds a single long-lived writer per robot; the API
// process (cmd/api) caches one connection per robot and reuses it
// across requests, for reads and for its own writes.
type IndexOpener func(robotID string) (*index.DB, error)

// Store is the subset of store.Store the API needs for clip-manifest
// uploads.
type Store interface {
	Put(key string, data []byte, contentType string) error
}

// Config bundles the redirect/bucket fields from api.* and rustfs.*.
type Config struct {
	DBDir              string
	RustfsPublicURL    string
	RustfsBucket       string
	LabelledDataBucket string
}

// Server holds the router and its dependencies.
type Server struct {
	cfg    Config
	open   IndexOpener
	upload Store
	log    *log.Logger
	router chi.Router
	pool   *workerpool.Pool
}

// New builds the chi router with every route from the query API table.
func New(cfg Config, open IndexOpener, upload Store, logger *log.Logger) *Server {
	s := &Server{cfg: cfg, open: open, upload: upload, log: logger, pool: workerpool.New(poolSize)}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/robots", s.listRobots)
	r.Route("/robots/{robotID}", func(r chi.Router) {
		r.Get("/segments", s.listSegments)
		r.Get("/segments/{id}", s.getSegment)
		r.Get("/segments/{id}/video", s.videoRedirect)
		r.Patch("/segments/{id}", s.patchLabels)
		r.Get("/timeline", s.timeline)

		r.Get("/collections", s.listCollections)
		r.Post("/collections", s.createCollection)
		r.Get("/collections/{cid}", s.getCollection)
		r.Delete("/collections/{cid}", s.deleteCollection)

		r.Get("/collections/{cid}/clips", s.listClips)
		r.Post("/collections/{cid}/clips", s.createClip)
		r.Delete("/collections/{cid}/clips/{clipID}", s.deleteClip)
		r.Get("/collections/{cid}/download-info", s.downloadInfo)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// run bounds fn's execution to the server's worker pool, so every
// blocking index/filesystem call in this package goes through the same
// concurrency limit instead of spawning a goroutine per request.
func (s *Server) run(r *http.Request, fn func() error) error {
	return s.pool.Do(r.Context(), fn)
}

func (s *Server) dbFor(w http.ResponseWriter, r *http.Request, robotID string) *index.DB {
	var db *index.DB
	err := s.run(r, func() error {
		var openErr error
		db, openErr = s.open(robotID)
		return openErr
	})
	if err != nil {
		s.log.Printf("open index for %s: %v", robotID, err)
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return nil
	}
	return db
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func (s *Server) listRobots(w http.ResponseWriter, r *http.Request) {
	var robots []string
	err := s.run(r, func() error {
		var listErr error
		robots, listErr = index.ListRobots(s.cfg.DBDir)
		return listErr
	})
	if err != nil {
		s.log.Printf("list robots: %v", err)
		writeError(w, http.StatusInternalServerError, "list robots failed")
		return
	}
	sort.Strings(robots)
	writeJSON(w, http.StatusOK, robots)
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	robotID := chi.URLParam(r, "robotID")
	db := s.dbFor(w, r, robotID)
	if db == nil {
		return
	}

	q := r.URL.Query()
	var filter index.SegmentFilter
	if v := q.Get("start_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_ms")
			return
		}
		filter.StartMs, filter.HasStart = ms, true
	}
	if v := q.Get("end_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_ms")
			return
		}
		filter.EndMs, filter.HasEnd = ms, true
	}
	if v := q.Get("type"); v != "" {
		filter.Type, filter.HasType = v, true
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	var segs []index.Segment
	err := s.run(r, func() error {
		var qerr error
		segs, qerr = db.ListSegments(filter)
		return qerr
	})
	if err != nil {
		s.log.Printf("list segments: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) getSegment(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var seg *index.Segment
	err := s.run(r, func() error {
		var qerr error
		seg, qerr = db.GetSegment(id)
		return qerr
	})
	if err != nil {
		s.log.Printf("get segment: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if seg == nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) videoRedirect(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var seg *index.Segment
	err := s.run(r, func() error {
		var qerr error
		seg, qerr = db.GetSegment(id)
		return qerr
	})
	if err != nil {
		s.log.Printf("get segment for redirect: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if seg == nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	url := strings.TrimRight(s.cfg.RustfsPublicURL, "/") + "/" + s.cfg.RustfsBucket + "/" + strings.TrimLeft(seg.S3Key, "/")
	http.Redirect(w, r, url, http.StatusFound)
}

type patchLabelsBody struct {
	Labels []string `json:"labels"`
}

func (s *Server) patchLabels(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	var body patchLabelsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	var updated bool
	err := s.run(r, func() error {
		var uerr error
		updated, uerr = db.UpdateLabels(id, body.Labels)
		return uerr
	})
	if err != nil {
		s.log.Printf("update labels: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type timelineResponse struct {
	Segments   []index.Segment `json:"segments"`
	TimeBounds struct {
		EarliestMs int64 `json:"earliest_ms"`
		LatestMs   int64 `json:"latest_ms"`
	} `json:"time_bounds"`
}

func (s *Server) timeline(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}

	q := r.URL.Query()
	startMs, _ := strconv.ParseInt(q.Get("start_ms"), 10, 64)
	endMs, _ := strconv.ParseInt(q.Get("end_ms"), 10, 64)
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	var segs []index.Segment
	var earliest, latest int64
	err := s.run(r, func() error {
		var qerr error
		segs, earliest, latest, qerr = db.Timeline(startMs, endMs, limit)
		return qerr
	})
	if err != nil {
		s.log.Printf("timeline: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	resp := timelineResponse{Segments: segs}
	resp.TimeBounds.EarliestMs = earliest
	resp.TimeBounds.LatestMs = latest
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	var cols []index.Collection
	err := s.run(r, func() error {
		var qerr error
		cols, qerr = db.ListCollections()
		return qerr
	})
	if err != nil {
		s.log.Printf("list collections: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

type createCollectionBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	var body createCollectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	now := nowMs()
	var id int64
	var col *index.Collection
	err := s.run(r, func() error {
		var cerr error
		id, cerr = db.CreateCollection(body.Name, body.Description, now)
		if cerr != nil {
			return cerr
		}
		col, cerr = db.GetCollection(id)
		return cerr
	})
	if err == index.ErrDuplicateName {
		writeError(w, http.StatusConflict, "collection name already exists")
		return
	}
	if err != nil || col == nil {
		s.log.Printf("create collection: %v", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	cid, ok := pathInt64(w, r, "cid")
	if !ok {
		return
	}
	var col *index.Collection
	err := s.run(r, func() error {
		var qerr error
		col, qerr = db.GetCollection(cid)
		return qerr
	})
	if err != nil {
		s.log.Printf("get collection: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if col == nil {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	cid, ok := pathInt64(w, r, "cid")
	if !ok {
		return
	}
	var deleted bool
	err := s.run(r, func() error {
		var derr error
		deleted, derr = db.DeleteCollection(cid)
		return derr
	})
	if err != nil {
		s.log.Printf("delete collection: %v", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listClips(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	cid, ok := pathInt64(w, r, "cid")
	if !ok {
		return
	}
	var clips []index.Clip
	err := s.run(r, func() error {
		var qerr error
		clips, qerr = db.ListClips(cid)
		return qerr
	})
	if err != nil {
		s.log.Printf("list clips: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

type createClipBody struct {
	Modality   string  `json:"modality"`
	StartMs    int64   `json:"clip_start_ms"`
	EndMs      int64   `json:"clip_end_ms"`
	SegmentIDs []int64 `json:"segment_ids"`
}

type manifestSegment struct {
	SegmentID    int64  `json:"segment_id"`
	SourceBucket string `json:"source_bucket"`
	SourceKey    string `json:"source_key"`
	StartMs      int64  `json:"start_ms"`
	EndMs        int64  `json:"end_ms"`
	Type         string `json:"type"`
	SizeBytes    int64  `json:"size_bytes"`
	Modality     string `json:"modality"`
}

type clipManifest struct {
	RobotID    string            `json:"robot_id"`
	Collection string            `json:"collection"`
	StartMs    int64             `json:"clip_start_ms"`
	EndMs      int64             `json:"clip_end_ms"`
	Labels     []string          `json:"labels"`
	Segments   []manifestSegment `json:"segments"`
}

func (s *Server) createClip(w http.ResponseWriter, r *http.Request) {
	robotID := chi.URLParam(r, "robotID")
	db := s.dbFor(w, r, robotID)
	if db == nil {
		return
	}
	cid, ok := pathInt64(w, r, "cid")
	if !ok {
		return
	}

	var body createClipBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(body.SegmentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "segment_ids must not be empty")
		return
	}

	var col *index.Collection
	var segs []index.Segment
	err := s.run(r, func() error {
		var qerr error
		col, qerr = db.GetCollection(cid)
		if qerr != nil {
			return qerr
		}
		if col == nil {
			return nil
		}
		segs, qerr = db.SegmentsByIDs(body.SegmentIDs)
		return qerr
	})
	if err != nil {
		s.log.Printf("fetch collection/segments for clip: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if col == nil {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	modality := body.Modality
	if modality == "" {
		modality = "camera"
	}

	manifest := clipManifest{
		RobotID:    robotID,
		Collection: col.Name,
		StartMs:    body.StartMs,
		EndMs:      body.EndMs,
		Segments:   make([]manifestSegment, 0, len(segs)),
	}
	resolvedIDs := make([]int64, 0, len(segs))
	for _, seg := range segs {
		manifest.Segments = append(manifest.Segments, manifestSegment{
			SegmentID:    seg.ID,
			SourceBucket: s.cfg.RustfsBucket,
			SourceKey:    seg.S3Key,
			StartMs:      seg.StartMs,
			EndMs:        seg.EndMs,
			Type:         seg.Type,
			SizeBytes:    seg.SizeBytes,
			Modality:     modality,
		})
		resolvedIDs = append(resolvedIDs, seg.ID)
	}

	now := nowMs()
	manifestKey := safeName(col.Name)
	manifestObjectKey := robotID + "/" + manifestKey + "/" + strconv.FormatInt(body.StartMs, 10) + "_" + strconv.FormatInt(body.EndMs, 10) + ".json"

	var uploadedKey string
	if data, err := json.Marshal(manifest); err != nil {
		s.log.Printf("marshal manifest: %v", err)
	} else {
		uploadErr := s.run(r, func() error { return s.upload.Put(manifestObjectKey, data, "application/json") })
		if uploadErr != nil {
			// A failed manifest PUT is logged but must not fail the clip insert:
			// the manifest can always be regenerated later from the index.
			s.log.Printf("upload manifest %s: %v", manifestObjectKey, uploadErr)
		} else {
			uploadedKey = manifestObjectKey
		}
	}

	// Store only the segment IDs that actually resolved: a clip must
	// never reference a segment the manifest doesn't itself list.
	var id int64
	err = s.run(r, func() error {
		var cerr error
		id, cerr = db.CreateClip(cid, modality, body.StartMs, body.EndMs, resolvedIDs, uploadedKey, now)
		return cerr
	})
	if err != nil {
		s.log.Printf("create clip: %v", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "manifest_s3_key": uploadedKey})
}

func safeName(name string) string {
	r := strings.NewReplacer(" ", "_", "/", "-")
	return r.Replace(name)
}

func (s *Server) deleteClip(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	cid, ok := pathInt64(w, r, "cid")
	if !ok {
		return
	}
	clipID, ok := pathInt64(w, r, "clipID")
	if !ok {
		return
	}
	var deleted bool
	err := s.run(r, func() error {
		var derr error
		deleted, derr = db.DeleteClip(cid, clipID)
		return derr
	})
	if err != nil {
		s.log.Printf("delete clip: %v", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) downloadInfo(w http.ResponseWriter, r *http.Request) {
	db := s.dbFor(w, r, chi.URLParam(r, "robotID"))
	if db == nil {
		return
	}
	cid, ok := pathInt64(w, r, "cid")
	if !ok {
		return
	}
	var clips []index.Clip
	var segs []index.Segment
	err := s.run(r, func() error {
		var qerr error
		clips, qerr = db.ListClips(cid)
		if qerr != nil {
			return qerr
		}
		uniqueSegIDs := map[int64]struct{}{}
		for _, clip := range clips {
			for _, id := range clip.SegmentIDs {
				uniqueSegIDs[id] = struct{}{}
			}
		}
		ids := make([]int64, 0, len(uniqueSegIDs))
		for id := range uniqueSegIDs {
			ids = append(ids, id)
		}
		segs, qerr = db.SegmentsByIDs(ids)
		return qerr
	})
	if err != nil {
		s.log.Printf("fetch clips/segments for download-info: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	var totalBytes int64
	for _, seg := range segs {
		totalBytes += seg.SizeBytes
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_bytes": totalBytes,
		"clip_count":  len(clips),
	})
}
