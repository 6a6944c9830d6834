package armresources

// ARM request and response bodies share one shape, so the models carry
// json tags directly and the poller unmarshals terminal bodies straight
// into them.

// ResourceGroup is an ARM resource group. Location is required on
// create; the service fills the read-only identity fields.
type ResourceGroup struct {
	ID         string                   `json:"id,omitempty"`
	Name       string                   `json:"name,omitempty"`
	Type       string                   `json:"type,omitempty"`
	Location   string                   `json:"location"`
	ManagedBy  *string                  `json:"managedBy,omitempty"`
	Tags       map[string]string        `json:"tags,omitempty"`
	Properties *ResourceGroupProperties `json:"properties,omitempty"`
}

// ResourceGroupProperties is the resource group's provisioning state.
type ResourceGroupProperties struct {
	ProvisioningState string `json:"provisioningState,omitempty"`
}

// DeleteResponse is the empty result of a completed resource group
// delete.
type DeleteResponse struct{}

// ExportTemplateRequest selects the resources to export. "*" exports
// every resource in the group.
type ExportTemplateRequest struct {
	Resources []string `json:"resources,omitempty"`

	// Options adjusts template generation, e.g.
	// "IncludeParameterDefaultValue".
	Options string `json:"options,omitempty"`
}

// ExportTemplateResult carries the generated deployment template.
type ExportTemplateResult struct {
	Template map[string]any `json:"template,omitempty"`
}

// ListPageResponse is one page of a subscription's resource groups.
type ListPageResponse struct {
	ResourceGroups []ResourceGroup

	nextLink string
}

type resourceGroupListJSON struct {
	Value    []ResourceGroup `json:"value"`
	NextLink string          `json:"nextLink"`
}
