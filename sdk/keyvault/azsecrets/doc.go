// Package azsecrets provides a client for the Azure Key Vault secrets
// API.
//
// The client authenticates through the vault's bearer challenge: the
// first request draws a 401 naming the authority and resource, a token
// is fetched for that scope, and the request is replayed. Request
// payloads are withheld until the challenge has been answered.
//
// Deleting and recovering secrets are long-running operations because
// soft-delete state propagates asynchronously. BeginDeleteSecret and
// BeginRecoverDeletedSecret return pollers that treat 404 as
// in-progress and complete when the new state is visible.
package azsecrets
