// Package storage resolves where in-flight downloads keep their temporary
// parts and manages those parts.
//
// The default [BlobResolver] is storage-agnostic via gocloud.dev/blob, so the
// temp area can be memory, a local directory, S3 or GCS:
//
//	mem://
//	file:///var/tmp/fetchkit
//	s3://bucket?region=us-east-1
//	gs://bucket
//
// # Storage Layout
//
//	{prefix}/parallel/{id}.0.part
//	{prefix}/parallel/{id}.1.part
//	{prefix}/sequential/{id}.0.part
//
// Parts of a download are removed with [BlobResolver.DeleteAllForID], which is
// what the database delete delegate calls.
package storage
