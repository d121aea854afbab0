package cnst

const (
	// AppName is the name of the application
	AppName = "weft-server"
	// CommandName is the name of the command line binary
	CommandName = "weft-server"
)

const (
	// WeftYaml is the default configuration file name
	WeftYaml = "weft.yaml"
)
