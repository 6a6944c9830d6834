package appconfig

import (
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// Setting is a configuration setting: a key with an optional label
// qualifier, a value, and bookkeeping the service maintains.
type Setting struct {
	Key         *string
	Value       *string
	Label       *string
	ContentType *string
	Tags        map[string]string

	// ETag identifies this revision, for match conditions.
	ETag azcore.ETag

	// IsReadOnly reports whether the setting is locked. Toggle it with
	// Client.SetReadOnly.
	IsReadOnly bool

	LastModified time.Time
}

// SettingFields selects which fields list operations return.
type SettingFields string

const (
	SettingFieldsKey          SettingFields = "key"
	SettingFieldsLabel        SettingFields = "label"
	SettingFieldsValue        SettingFields = "value"
	SettingFieldsContentType  SettingFields = "content_type"
	SettingFieldsETag         SettingFields = "etag"
	SettingFieldsLastModified SettingFields = "last_modified"
	SettingFieldsIsReadOnly   SettingFields = "locked"
	SettingFieldsTags         SettingFields = "tags"
)

// settingJSON is the wire form.
type settingJSON struct {
	Key          *string           `json:"key,omitempty"`
	Value        *string           `json:"value,omitempty"`
	Label        *string           `json:"label,omitempty"`
	ContentType  *string           `json:"content_type,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	ETag         *string           `json:"etag,omitempty"`
	Locked       *bool             `json:"locked,omitempty"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
}

func (w settingJSON) toSetting() Setting {
	s := Setting{
		Key:         w.Key,
		Value:       w.Value,
		Label:       w.Label,
		ContentType: w.ContentType,
		Tags:        w.Tags,
	}
	if w.ETag != nil {
		s.ETag = azcore.ETag(*w.ETag)
	}
	if w.Locked != nil {
		s.IsReadOnly = *w.Locked
	}
	if w.LastModified != nil {
		s.LastModified = *w.LastModified
	}
	return s
}

type settingPage struct {
	Items    []settingJSON `json:"items"`
	NextLink *string       `json:"@nextLink"`
}

// ListSettingsPageResponse is one page of settings.
type ListSettingsPageResponse struct {
	Settings []Setting

	// SyncToken is the consistency token observed on this page's response.
	SyncToken string

	nextLink string
}
