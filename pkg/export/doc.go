// Package export backs up and restores persisted throughput samples.
//
// # Formats
//
// JSON keeps every field of a sample plus export metadata and can be fed
// back through the importer:
//
//	{
//	  "metadata": {"exported_at": "...", "start_time": "...", "end_time": "...",
//	               "sample_count": 2, "format": "json", "version": "1.0"},
//	  "samples": [
//	    {"key": "Home Desktop PC", "timestamp": "...", "download": 3.2, "upload": 0.4},
//	    {"key": "__all__", "timestamp": "...", "download": 8.1, "upload": 1.9}
//	  ]
//	}
//
// CSV is one row per sample with the columns timestamp, key, download_mbps
// and upload_mbps. It is meant for spreadsheets and is export-only.
//
// # HTTP API
//
//	GET  /v1/export?format=json|csv&start=RFC3339&end=RFC3339&device=NAME
//	POST /v1/import   (JSON body as produced by export)
//
// The default export range is the last 24 hours; ranges longer than 30 days
// are rejected.
package export
