package azsecrets

const (
	moduleName    = "azsecrets"
	moduleVersion = "1.2.0"
)
