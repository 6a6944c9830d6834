package azcore

const (
	moduleName    = "azcore"
	moduleVersion = "0.5.0"
)
