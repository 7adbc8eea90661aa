// Package planner analyzes repositories and produces ordered, resumable
// installation plans.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/rs/zerolog"
)

// Planner analyzes repositories and builds installation plans.
type Planner struct {
	runner        execx.Runner
	gitBinary     string
	runtimeBinary string
	logger        zerolog.Logger
}

// New creates a Planner.
func New(runner execx.Runner, gitBinary, runtimeBinary string, logger zerolog.Logger) *Planner {
	if gitBinary == "" {
		gitBinary = "git"
	}
	if runtimeBinary == "" {
		runtimeBinary = "docker"
	}
	return &Planner{
		runner:        runner,
		gitBinary:     gitBinary,
		runtimeBinary: runtimeBinary,
		logger:        logger.With().Str("component", "planner").Logger(),
	}
}

// Analyze inspects a repository reference (URL or local path) and returns an
// immutable analysis. Remote repositories are shallow-fetched into a scratch
// directory that is always cleaned up.
func (p *Planner) Analyze(ctx context.Context, repoRef string) (models.RepoAnalysis, error) {
	if info, err := os.Stat(repoRef); err == nil && info.IsDir() {
		return p.inspectTree(repoRef, repoRef)
	}

	owner, repo, err := SplitOwnerRepo(repoRef)
	if err != nil {
		return models.RepoAnalysis{}, err
	}

	scratch, err := os.MkdirTemp("", "mcpilot-analyze-*")
	if err != nil {
		return models.RepoAnalysis{}, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	checkout := filepath.Join(scratch, repo)
	res, err := p.runner.Run(ctx, execx.Command{
		Path: p.gitBinary,
		Args: []string{"clone", "--depth", "1", repoRef, checkout},
	})
	if err != nil {
		return models.RepoAnalysis{}, faults.Wrap(faults.Unreachable, "planner",
			fmt.Errorf("shallow fetch %s: %w: %s", repoRef, err, strings.TrimSpace(string(res.Stderr))))
	}

	analysis, err := p.inspectTree(checkout, repoRef)
	if err != nil {
		return models.RepoAnalysis{}, err
	}
	analysis.Owner = owner
	analysis.Repo = repo
	return analysis, nil
}

// inspectTree derives the analysis from a checked-out tree. It reads files
// only; nothing is executed.
func (p *Planner) inspectTree(dir, repoRef string) (models.RepoAnalysis, error) {
	analysis := models.RepoAnalysis{RepoRef: repoRef}

	analysis.HasContainerRecipe = fileExists(dir, "Dockerfile") ||
		fileExists(dir, "docker-compose.yml") ||
		fileExists(dir, "docker-compose.yaml") ||
		fileExists(dir, "Containerfile")

	switch {
	case fileExists(dir, "package.json"):
		if err := p.inspectNode(dir, &analysis); err != nil {
			return models.RepoAnalysis{}, err
		}
	case fileExists(dir, "pyproject.toml"), fileExists(dir, "requirements.txt"), fileExists(dir, "setup.py"):
		p.inspectPython(dir, &analysis)
	default:
		analysis.Language = "unknown"
	}

	for _, name := range []string{"config.json", "config.example.json", ".env.example", "mcp.json"} {
		if fileExists(dir, name) {
			analysis.ConfigFiles = append(analysis.ConfigFiles, name)
		}
	}

	p.logger.Debug().
		Str("repo", repoRef).
		Str("language", analysis.Language).
		Bool("container_recipe", analysis.HasContainerRecipe).
		Msg("repository analyzed")
	return analysis, nil
}

// packageJSON is the subset of package.json the analyzer reads.
type packageJSON struct {
	Name            string            `json:"name"`
	Main            string            `json:"main"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (p *Planner) inspectNode(dir string, analysis *models.RepoAnalysis) error {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return faults.Wrap(faults.Corrupt, "planner", fmt.Errorf("read package.json: %w", err))
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return faults.Wrap(faults.Corrupt, "planner", fmt.Errorf("parse package.json: %w", err))
	}

	analysis.Language = "node"
	for name, version := range pkg.Dependencies {
		analysis.Dependencies = append(analysis.Dependencies, models.Dependency{Name: name, Version: version})
	}
	sortDependencies(analysis.Dependencies)

	if _, ok := pkg.Dependencies["@modelcontextprotocol/sdk"]; ok {
		analysis.Framework = "mcp-sdk"
	}

	analysis.InstallCommands = [][]string{{"npm", "install"}}
	if _, ok := pkg.Scripts["build"]; ok {
		analysis.BuildCommand = []string{"npm", "run", "build"}
	}
	switch {
	case pkg.Scripts["start"] != "":
		analysis.StartCommand = []string{"npm", "run", "start"}
	case pkg.Main != "":
		analysis.StartCommand = []string{"node", pkg.Main}
	default:
		analysis.StartCommand = []string{"node", "index.js"}
	}
	return nil
}

func (p *Planner) inspectPython(dir string, analysis *models.RepoAnalysis) {
	analysis.Language = "python"

	if data, err := os.ReadFile(filepath.Join(dir, "requirements.txt")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name, version := splitRequirement(line)
			analysis.Dependencies = append(analysis.Dependencies, models.Dependency{Name: name, Version: version})
		}
	}

	if fileExists(dir, "pyproject.toml") {
		analysis.InstallCommands = [][]string{{"pip", "install", "."}}
	} else {
		analysis.InstallCommands = [][]string{{"pip", "install", "-r", "requirements.txt"}}
	}
	analysis.StartCommand = []string{"python", "-m", "server"}
	if fileExists(dir, "main.py") {
		analysis.StartCommand = []string{"python", "main.py"}
	} else if fileExists(dir, "server.py") {
		analysis.StartCommand = []string{"python", "server.py"}
	}
}

// splitRequirement splits "name==1.2" style pins into name and version.
func splitRequirement(line string) (string, string) {
	for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<"} {
		if i := strings.Index(line, sep); i > 0 {
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+len(sep):])
		}
	}
	return line, ""
}

// SplitOwnerRepo extracts (owner, repo) from a github.com repository URL.
// Other hosts fail with an Unreachable fault: the update checker and the
// fetch step only understand GitHub remotes.
func SplitOwnerRepo(repoRef string) (string, string, error) {
	u, err := url.Parse(repoRef)
	if err != nil {
		return "", "", faults.Wrap(faults.PreconditionFailed, "planner",
			fmt.Errorf("parse repository URL %q: %w", repoRef, err))
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if host != "github.com" {
		return "", "", faults.New(faults.PreconditionFailed, "planner",
			fmt.Sprintf("unsupported remote host %q (only github.com)", u.Host))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", faults.New(faults.PreconditionFailed, "planner",
			fmt.Sprintf("repository URL %q missing owner/repo", repoRef))
	}
	repo := strings.TrimSuffix(parts[1], ".git")
	return parts[0], repo, nil
}

// DefaultPortForScheme maps URL schemes to their well-known ports. The
// mapping is deterministic and total for the documented schemes; unknown
// schemes return 0.
func DefaultPortForScheme(scheme string) int {
	switch strings.ToLower(scheme) {
	case "https":
		return 443
	case "http":
		return 80
	case "ssh":
		return 22
	case "git":
		return 9418
	default:
		return 0
	}
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func sortDependencies(deps []models.Dependency) {
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
}
