// Package database persists download records for a namespace.
//
// [Manager] is the contract the rest of the engine depends on; callers may
// plug in their own implementation. [BadgerManager] is the default and keeps
// one BadgerDB per namespace:
//
//	{dir}/{namespace}/        (badger files)
//	dl/{id}                   (key: JSON-encoded DownloadInfo)
//
// Deleting a record calls the installed [Delegate] so that temporary files
// belonging to the download can be removed from the storage resolver.
package database
