package azblob

const (
	moduleName    = "azblob"
	moduleVersion = "1.0.1"
)
