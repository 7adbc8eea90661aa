package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
)

// Options adjusts plan generation.
type Options struct {
	// InstallPath overrides where the source is materialized.
	InstallPath string
	// Method forces an installation method; empty means the selection
	// policy decides.
	Method models.InstallMethod
	// IncludeContainer keeps container steps even when the method policy
	// would not have picked them.
	IncludeContainer bool
	// InstallRoot anchors the default install path when InstallPath is
	// empty.
	InstallRoot string
}

// Plan builds a totally-ordered installation plan from an analysis. The
// first step always materializes the source at the install path.
func (p *Planner) Plan(analysis models.RepoAnalysis, opts Options) (*models.Plan, error) {
	name := serverNameFor(analysis)
	if name == "" {
		return nil, faults.New(faults.PreconditionFailed, "planner", "cannot derive server name from repository")
	}

	installPath := opts.InstallPath
	if installPath == "" {
		if opts.InstallRoot == "" {
			return nil, faults.New(faults.PreconditionFailed, "planner", "install path is required")
		}
		installPath = filepath.Join(opts.InstallRoot, name)
	}
	if !filepath.IsAbs(installPath) {
		return nil, faults.New(faults.PreconditionFailed, "planner",
			fmt.Sprintf("install path %q must be absolute", installPath))
	}

	method := selectMethod(analysis, opts)

	plan := &models.Plan{
		ServerID:    uuid.NewString(),
		ServerName:  name,
		InstallPath: installPath,
		Method:      method,
		Analysis:    analysis,
	}

	plan.Steps = append(plan.Steps, models.Step{
		Type:        models.StepFetch,
		Description: fmt.Sprintf("fetch %s into %s", analysis.RepoRef, installPath),
		Command:     []string{p.gitBinary, "clone", "--depth", "1", analysis.RepoRef, installPath},
		Dir:         filepath.Dir(installPath),
		Recoverable: true,
	})

	if method == models.MethodContainer {
		image := fmt.Sprintf("mcp-%s:latest", name)
		containerName := "mcp-" + name
		plan.Steps = append(plan.Steps,
			models.Step{
				Type:        models.StepContainerBuild,
				Description: fmt.Sprintf("build image %s", image),
				Command:     []string{p.runtimeBinary, "build", "-t", image, "."},
				Dir:         installPath,
			},
			models.Step{
				Type:        models.StepContainerRun,
				Description: fmt.Sprintf("run container %s", containerName),
				Command:     []string{p.runtimeBinary, "run", "-d", "--name", containerName, "--restart", "unless-stopped", image},
				Dir:         installPath,
				Recoverable: true,
			},
		)
	} else {
		for _, install := range analysis.InstallCommands {
			plan.Steps = append(plan.Steps, models.Step{
				Type:        models.StepInstallDeps,
				Description: "install dependencies: " + strings.Join(install, " "),
				Command:     append([]string(nil), install...),
				Dir:         installPath,
			})
		}
		if len(analysis.BuildCommand) > 0 {
			plan.Steps = append(plan.Steps, models.Step{
				Type:        models.StepBuild,
				Description: "build: " + strings.Join(analysis.BuildCommand, " "),
				Command:     append([]string(nil), analysis.BuildCommand...),
				Dir:         installPath,
			})
		}
		if len(analysis.ConfigFiles) > 0 {
			plan.Steps = append(plan.Steps, models.Step{
				Type:        models.StepConfigure,
				Description: "materialize default configuration: " + strings.Join(analysis.ConfigFiles, ", "),
				Dir:         installPath,
			})
		}
	}

	plan.Steps = append(plan.Steps, models.Step{
		Type:        models.StepVerify,
		Description: "verify installed artifacts",
		Dir:         installPath,
	})

	return plan, nil
}

// selectMethod applies the deterministic method selection policy: the first
// matching rule wins.
func selectMethod(analysis models.RepoAnalysis, opts Options) models.InstallMethod {
	if opts.Method != "" {
		return opts.Method
	}
	if analysis.HasContainerRecipe || opts.IncludeContainer {
		return models.MethodContainer
	}
	if analysis.Language == "python" {
		return models.MethodPython
	}
	return models.MethodPackageManager
}

// serverNameFor derives a stable server name from the analysis.
func serverNameFor(analysis models.RepoAnalysis) string {
	if analysis.Repo != "" {
		return analysis.Repo
	}
	base := filepath.Base(strings.TrimSuffix(strings.TrimRight(analysis.RepoRef, "/"), ".git"))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
