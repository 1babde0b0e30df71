package main

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// InstallFlags holds flags for the install command.
type InstallFlags struct {
	DefaultEmail   string
	InstallMissing bool
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	Repo             string
	Image            string
	Host             string
	Port             int
	LetsencryptEmail string
	Env              []string
	EnvFiles         []string
	Volumes          []string
	Restart          string
	GPU              bool
}

// DeployFlags holds flags for the deploy command.
type DeployFlags struct {
	Quiet bool
}

// UpdateFlags holds flags for the update command.
type UpdateFlags struct {
	NoDeploy bool
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	JSON bool
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
	JSON  bool
}
