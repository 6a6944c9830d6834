// Package azcore implements the HTTP pipeline shared by every service
// client in this repository: an ordered policy chain (telemetry, request
// ids, retry, redirect, auth, logging, tracing, metrics) over a pluggable
// transport, plus the credential protocol, conditional-request types, the
// error classification used across services, pagers for list operations,
// and pollers for long-running operations.
//
// Service client packages compose a Pipeline via NewPipeline and build
// requests with NewRequest; applications normally touch only ClientOptions.
package azcore
