package appconfig

const (
	moduleName    = "appconfig"
	moduleVersion = "1.1.0"
)
