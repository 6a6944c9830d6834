// Package azidentity provides Microsoft Entra ID token credentials for
// the service clients in this repository.
//
// Every credential implements azcore.TokenCredential and can be passed
// to any client constructor that takes one. DefaultAzureCredential is
// the right choice for most applications; the concrete credentials suit
// programs that know exactly how they will authenticate.
package azidentity
