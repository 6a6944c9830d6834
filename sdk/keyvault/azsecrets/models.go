package azsecrets

import (
	"net/url"
	"strings"
	"time"
)

// SecretID is a secret's full identifier,
// "https://{vault}/secrets/{name}/{version}". List items and deleted
// secrets carry no version segment.
type SecretID string

// Name returns the secret name component, or "" when the ID does not
// parse.
func (id SecretID) Name() string {
	if p := id.segments(); len(p) >= 2 {
		return p[1]
	}
	return ""
}

// Version returns the version component, or "" when the ID is
// unversioned.
func (id SecretID) Version() string {
	if p := id.segments(); len(p) >= 3 {
		return p[2]
	}
	return ""
}

func (id SecretID) segments() []string {
	u, err := url.Parse(string(id))
	if err != nil {
		return nil
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// SecretAttributes is a secret's management metadata.
type SecretAttributes struct {
	Enabled   *bool
	Expires   *time.Time
	NotBefore *time.Time
	Created   *time.Time
	Updated   *time.Time
}

// Secret is a secret bundle: the value plus its identifier and metadata.
type Secret struct {
	ID          SecretID
	Value       *string
	ContentType *string
	Tags        map[string]string
	Attributes  *SecretAttributes

	// Managed is set on secrets the vault maintains itself, such as
	// certificate backing secrets. They cannot be modified directly.
	Managed bool
}

// SecretProperties describes a secret without its value, as list
// operations return it.
type SecretProperties struct {
	ID          SecretID
	ContentType *string
	Tags        map[string]string
	Attributes  *SecretAttributes
	Managed     bool
}

// DeletedSecret is a soft-deleted secret with its recovery bookkeeping.
// Until ScheduledPurgeDate it can be recovered with
// BeginRecoverDeletedSecret or destroyed early with PurgeDeletedSecret.
type DeletedSecret struct {
	SecretProperties

	RecoveryID         string
	DeletedOn          *time.Time
	ScheduledPurgeDate *time.Time
}

type secretAttributesJSON struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Expires   int64 `json:"exp,omitempty"`
	NotBefore int64 `json:"nbf,omitempty"`
	Created   int64 `json:"created,omitempty"`
	Updated   int64 `json:"updated,omitempty"`
}

type secretBundleJSON struct {
	ID          string                `json:"id,omitempty"`
	Value       *string               `json:"value,omitempty"`
	ContentType *string               `json:"contentType,omitempty"`
	Tags        map[string]string     `json:"tags,omitempty"`
	Attributes  *secretAttributesJSON `json:"attributes,omitempty"`
	Managed     bool                  `json:"managed,omitempty"`

	RecoveryID         string `json:"recoveryId,omitempty"`
	DeletedDate        int64  `json:"deletedDate,omitempty"`
	ScheduledPurgeDate int64  `json:"scheduledPurgeDate,omitempty"`
}

type setSecretRequest struct {
	Value       string                `json:"value"`
	ContentType *string               `json:"contentType,omitempty"`
	Tags        map[string]string     `json:"tags,omitempty"`
	Attributes  *secretAttributesJSON `json:"attributes,omitempty"`
}

type listPageJSON struct {
	Value    []secretBundleJSON `json:"value"`
	NextLink string             `json:"nextLink"`
}

func epochToTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}

func timeToEpoch(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func (w secretBundleJSON) attributes() *SecretAttributes {
	if w.Attributes == nil {
		return nil
	}
	return &SecretAttributes{
		Enabled:   w.Attributes.Enabled,
		Expires:   epochToTime(w.Attributes.Expires),
		NotBefore: epochToTime(w.Attributes.NotBefore),
		Created:   epochToTime(w.Attributes.Created),
		Updated:   epochToTime(w.Attributes.Updated),
	}
}

func (w secretBundleJSON) toSecret() Secret {
	return Secret{
		ID:          SecretID(w.ID),
		Value:       w.Value,
		ContentType: w.ContentType,
		Tags:        w.Tags,
		Attributes:  w.attributes(),
		Managed:     w.Managed,
	}
}

func (w secretBundleJSON) toProperties() SecretProperties {
	return SecretProperties{
		ID:          SecretID(w.ID),
		ContentType: w.ContentType,
		Tags:        w.Tags,
		Attributes:  w.attributes(),
		Managed:     w.Managed,
	}
}

func (w secretBundleJSON) toDeletedSecret() DeletedSecret {
	return DeletedSecret{
		SecretProperties:   w.toProperties(),
		RecoveryID:         w.RecoveryID,
		DeletedOn:          epochToTime(w.DeletedDate),
		ScheduledPurgeDate: epochToTime(w.ScheduledPurgeDate),
	}
}
