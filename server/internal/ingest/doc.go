// Package ingest runs an uploaded dataset through parse, aggregate, store and
// alert evaluation. It is shared by the REST upload endpoint and the sheet
// syncer.
package ingest
