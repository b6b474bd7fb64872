// Package archive turns fetched posts into files on disk and rows in the
// archive database.
//
// Posts are processed sequentially. Every selected post is upserted, then each
// image whose blob CID is not yet recorded is downloaded, written under a
// deterministic name, and recorded. Download order is always bytes, then file,
// then database row.
package archive
