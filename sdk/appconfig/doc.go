// Package appconfig provides a client for Azure App Configuration.
//
// A Client reads and writes configuration settings, toggles their
// read-only state, and lists settings and revision history. Construct
// one with NewClient and a token credential, or with
// NewClientFromConnectionString using the store's access keys.
//
// Conditional operations take ETags from previously fetched settings.
// GetSetting with OnlyIfChanged returns azcore.ErrResourceNotModified
// when the stored revision still matches; SetSetting and DeleteSetting
// with OnlyIfUnchanged return azcore.ErrResourceModified when it does
// not.
//
// The client tracks the service's Sync-Token responses so that reads
// observe the client's own writes across replicas. UpdateSyncToken
// seeds that state from a token delivered out of band.
package appconfig
