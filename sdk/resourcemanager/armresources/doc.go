// Package armresources provides a management-plane client for Azure
// resource groups: create/update, existence checks, tag-filtered
// listing, and the long-running delete and template-export operations.
//
// ARM answers long-running requests with 202 and a Location header; the
// returned pollers follow it until the operation reaches a terminal
// state, and can be resumed in another process through resume tokens.
package armresources
