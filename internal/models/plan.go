package models

// StepType identifies the kind of work a plan step performs.
type StepType string

const (
	StepFetch          StepType = "fetch"
	StepBuild          StepType = "build"
	StepInstallDeps    StepType = "install-deps"
	StepConfigure      StepType = "configure"
	StepContainerBuild StepType = "container-build"
	StepContainerRun   StepType = "container-run"
	StepVerify         StepType = "verify"
)

// Step is a single unit of work in an installation plan. Command is an
// explicit argv vector; steps never pass through a shell.
type Step struct {
	Type        StepType          `json:"type"`
	Description string            `json:"description"`
	Command     []string          `json:"command,omitempty"`
	Dir         string            `json:"dir"`
	Env         map[string]string `json:"env,omitempty"`
	// Recoverable marks steps the executor may retry once after applying
	// a recovery strategy.
	Recoverable bool `json:"recoverable"`
}

// Plan is a totally-ordered, resumable sequence of installation steps.
// ProgressIndex only ever advances.
type Plan struct {
	ServerID      string        `json:"server_id"`
	ServerName    string        `json:"server_name"`
	InstallPath   string        `json:"install_path"`
	Method        InstallMethod `json:"method"`
	Analysis      RepoAnalysis  `json:"analysis"`
	Steps         []Step        `json:"steps"`
	ProgressIndex int           `json:"progress_index"`
}

// Remaining returns the steps that have not completed yet.
func (p *Plan) Remaining() []Step {
	if p.ProgressIndex >= len(p.Steps) {
		return nil
	}
	return p.Steps[p.ProgressIndex:]
}

// Dependency is a name/version pair discovered during repo analysis.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// RepoAnalysis is the planner's immutable view of a repository.
type RepoAnalysis struct {
	RepoRef            string       `json:"repo_ref"`
	Owner              string       `json:"owner,omitempty"`
	Repo               string       `json:"repo,omitempty"`
	Language           string       `json:"language"`
	Framework          string       `json:"framework,omitempty"`
	HasContainerRecipe bool         `json:"has_container_recipe"`
	Dependencies       []Dependency `json:"dependencies,omitempty"`
	InstallCommands    [][]string   `json:"install_commands,omitempty"`
	BuildCommand       []string     `json:"build_command,omitempty"`
	StartCommand       []string     `json:"start_command,omitempty"`
	ConfigFiles        []string     `json:"config_files,omitempty"`
}

// Kind maps the analyzed language and method to a server kind.
func (a RepoAnalysis) Kind(method InstallMethod) ServerKind {
	if method == MethodContainer {
		return ServerKindContainer
	}
	if a.Language == "python" {
		return ServerKindPython
	}
	return ServerKindNode
}
