package azagents

const (
	moduleName    = "azagents"
	moduleVersion = "1.0.0"
)
