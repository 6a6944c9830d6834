package appconfig

import (
	"fmt"
	"strings"
)

// parseConnectionString splits "Endpoint=…;Id=…;Secret=…" into its parts.
// Segment order does not matter; all three are required.
func parseConnectionString(connectionString string) (endpoint, credential, secret string, err error) {
	for _, segment := range strings.Split(connectionString, ";") {
		name, value, found := strings.Cut(segment, "=")
		if !found {
			continue
		}
		switch name {
		case "Endpoint":
			endpoint = strings.TrimSuffix(value, "/")
		case "Id":
			credential = value
		case "Secret":
			secret = value
		}
	}
	if endpoint == "" || credential == "" || secret == "" {
		return "", "", "", fmt.Errorf("connection string must contain Endpoint, Id and Secret")
	}
	return endpoint, credential, secret, nil
}
