package azidentity

const (
	moduleName    = "azidentity"
	moduleVersion = "0.4.0"
)
