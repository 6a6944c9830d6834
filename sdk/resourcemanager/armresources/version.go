package armresources

const (
	moduleName    = "armresources"
	moduleVersion = "1.1.0"
)
