package frame

import (
	"fmt"
	"strings"
	"time"
)

// fmtTimestamp renders {YYYYMMDDTHHMMSSsssZ}: Go's reference layout has
// no way to express milliseconds without a preceding separator, so the
// millisecond digits are appended by hand rather than via Format.
func fmtTimestamp(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	return fmt.Sprintf("%s%03dZ", t.Format("20060102T150405"), t.Nanosecond()/1e6)
}

func dateDir(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// IdleObjectKey builds the object key for the representative JPEG of an
// idle interval:
// {prefix}{robotID}/camera/{date(start)}/{ts(start)}_{ts(lastSimilar)}.jpg
func IdleObjectKey(prefix, robotID string, startMs, lastSimilarMs int64) string {
	return fmt.Sprintf("%s%s/camera/%s/%s_%s.jpg", prefix, robotID, dateDir(startMs),
		fmtTimestamp(startMs), fmtTimestamp(lastSimilarMs))
}

// ActiveSegmentKey builds the object key for an encoded active segment:
// {prefix}{robotID}/camera/{date(start)}/{ts(start)}_{ts(end)}.mp4
func ActiveSegmentKey(prefix, robotID string, startMs, endMs int64) string {
	return fmt.Sprintf("%s%s/camera/%s/%s_%s.mp4", prefix, robotID, dateDir(startMs),
		fmtTimestamp(startMs), fmtTimestamp(endMs))
}

// IdleMarkerKey builds the synthetic index-only key for an H.264 idle
// interval, which stores no media: idle:{start}/{end}
func IdleMarkerKey(startMs, endMs int64) string {
	return fmt.Sprintf("idle:%d/%d", startMs, endMs)
}

// SafeName replaces characters that are unsafe in an object key path
// segment: spaces become underscores, slashes become hyphens.
func SafeName(name string) string {
	r := strings.NewReplacer(" ", "_", "/", "-")
	return r.Replace(name)
}

// ManifestKey builds the object key for a clip manifest JSON document in
// the labelled-data archive bucket: {robotID}/{safeName}/{start}_{end}.json
func ManifestKey(robotID, collectionName string, startMs, endMs int64) string {
	return fmt.Sprintf("%s/%s/%d_%d.json", robotID, SafeName(collectionName), startMs, endMs)
}
