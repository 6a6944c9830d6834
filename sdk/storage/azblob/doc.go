// Package azblob provides a client for Azure Blob Storage block blobs:
// container management, uploads, ranged downloads, and listing.
//
// Authentication is either a Microsoft Entra ID credential or the storage
// account key; shared key requests carry an HMAC-SHA256 signature over the
// canonicalized request.
//
// UploadBuffer sends small payloads in one request. Anything larger than
// the configured block size is split into blocks, staged concurrently,
// and committed with a block list.
package azblob
