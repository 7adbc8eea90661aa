package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcpilot/mcpilot/internal/configstore"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/planner"
	"github.com/mcpilot/mcpilot/internal/registry"
)

// secretPrefix marks env values that must be resolved through the SecretStore.
const secretPrefix = "secret:"

// InstallOptions adjusts a single install.
type InstallOptions struct {
	RepoRef     string
	InstallPath string
	Method      models.InstallMethod
	// Env is merged into the server's runtime environment. Values of the
	// form "secret:NAME" are resolved through the SecretStore before they
	// reach disk.
	Env        map[string]string
	TemplateID string
}

// Install analyzes the repository, executes the generated plan, and persists
// the resulting server. On any failure or cancellation no server record is
// left behind.
func (o *Orchestrator) Install(ctx context.Context, user string, opts InstallOptions) (*models.ServerRecord, error) {
	if err := o.authorize(ctx, user, ActionInstall, ""); err != nil {
		return nil, o.finish(ActionInstall, "", "", err)
	}

	env, err := o.resolveSecrets(ctx, opts.Env)
	if err != nil {
		return nil, o.finish(ActionInstall, "", "", err)
	}

	analysis, err := o.planner.Analyze(ctx, opts.RepoRef)
	if err != nil {
		return nil, o.finish(ActionInstall, "", "", err)
	}
	plan, err := o.planner.Plan(analysis, planner.Options{
		InstallPath: opts.InstallPath,
		Method:      opts.Method,
		InstallRoot: o.installRoot,
	})
	if err != nil {
		return nil, o.finish(ActionInstall, "", "", err)
	}

	if _, err := o.registry.GetByName(ctx, plan.ServerName); err == nil {
		return nil, o.finish(ActionInstall, plan.ServerID, "", faults.New(faults.NameCollision, "install",
			fmt.Sprintf("server %q is already installed", plan.ServerName)))
	} else if !errors.Is(err, registry.ErrNotFound) {
		return nil, o.finish(ActionInstall, plan.ServerID, "", err)
	}

	lock := o.lockFor(plan.ServerID)
	lock.Lock()
	defer lock.Unlock()

	o.logger.Info().
		Str("server_id", plan.ServerID).
		Str("repo", opts.RepoRef).
		Str("method", string(plan.Method)).
		Msg("install started")

	if err := o.executor.Execute(ctx, plan); err != nil {
		return nil, o.finish(ActionInstall, plan.ServerID, "", err)
	}

	rec := o.recordFromPlan(ctx, plan, env, opts.TemplateID)
	if err := rec.Validate(); err != nil {
		return nil, o.finish(ActionInstall, plan.ServerID, "", err)
	}
	if err := o.registry.Create(ctx, rec); err != nil {
		return nil, o.finish(ActionInstall, plan.ServerID, "", err)
	}

	if err := o.writeConfigEntry(ctx, rec); err != nil {
		// keep the registry consistent with the config document
		if derr := o.registry.Delete(ctx, rec.ID); derr != nil {
			o.logger.Warn().Err(derr).Str("server_id", rec.ID).Msg("rollback of server record failed")
		}
		return nil, o.finish(ActionInstall, rec.ID, "", err)
	}

	o.refreshServerGauge(ctx)
	o.state(rec.ID, "installed")
	return rec, o.finish(ActionInstall, rec.ID, "", nil)
}

// resolveSecrets copies env, replacing "secret:NAME" values with the named
// secret's content.
func (o *Orchestrator) resolveSecrets(ctx context.Context, env map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(env))
	for key, value := range env {
		name, ok := strings.CutPrefix(value, secretPrefix)
		if !ok {
			out[key] = value
			continue
		}
		if o.secrets == nil {
			return nil, faults.New(faults.PreconditionFailed, "install",
				fmt.Sprintf("env %s references secret %q but no secret store is configured", key, name))
		}
		resolved, err := o.secrets.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %q for env %s: %w", name, key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

// recordFromPlan snapshots the executed plan into a persistent record. The
// executor may have renamed the install path or the container during
// collision recovery, so provenance is read back from the plan's steps.
func (o *Orchestrator) recordFromPlan(ctx context.Context, plan *models.Plan, env map[string]string, templateID string) *models.ServerRecord {
	now := time.Now().UTC()
	rec := &models.ServerRecord{
		ID:          plan.ServerID,
		Name:        plan.ServerName,
		Kind:        plan.Analysis.Kind(plan.Method),
		InstallPath: plan.InstallPath,
		Env:         env,
		TemplateID:  templateID,
		Enabled:     true,
		RepoURL:     plan.Analysis.RepoRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if rec.Kind == models.ServerKindContainer {
		if step := findStep(plan, models.StepContainerRun); step != nil {
			rec.Command = append([]string(nil), step.Command...)
			if cname := flagValue(step.Command, "--name"); cname != "" && cname != rec.ContainerName() {
				rec.Name = strings.TrimPrefix(cname, "mcp-")
			}
		}
		rec.Image = fmt.Sprintf("mcp-%s:latest", plan.ServerName)
		if step := findStep(plan, models.StepContainerBuild); step != nil {
			if tag := flagValue(step.Command, "-t"); tag != "" {
				rec.Image = tag
			}
		}
		if digest, err := o.containers.ImageDigest(ctx, rec.Image); err == nil {
			rec.Digest = digest
		} else {
			o.logger.Debug().Err(err).Str("image", rec.Image).Msg("image digest unavailable")
		}
		return rec
	}

	rec.Command = append([]string(nil), plan.Analysis.StartCommand...)
	if rev, err := o.headRevision(ctx, plan.InstallPath); err == nil {
		rec.Revision = rev
	} else {
		o.logger.Debug().Err(err).Str("dir", plan.InstallPath).Msg("head revision unavailable")
	}
	return rec
}

func (o *Orchestrator) writeConfigEntry(ctx context.Context, rec *models.ServerRecord) error {
	entry := configstore.ServerEntry{
		Command:     rec.Command,
		Cwd:         rec.InstallPath,
		Env:         rec.Env,
		AutoRestart: true,
	}
	return o.configs.Apply(ctx, func(doc configstore.Document) (configstore.Document, error) {
		doc.SetServer(rec.Name, entry)
		return doc, nil
	})
}

func (o *Orchestrator) headRevision(ctx context.Context, dir string) (string, error) {
	res, err := o.runner.Run(ctx, execx.Command{
		Path:    o.gitBinary,
		Args:    []string{"rev-parse", "HEAD"},
		Dir:     dir,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

func findStep(plan *models.Plan, t models.StepType) *models.Step {
	for i := range plan.Steps {
		if plan.Steps[i].Type == t {
			return &plan.Steps[i]
		}
	}
	return nil
}

// flagValue returns the argv value following flag, e.g. "--name" or "-t".
func flagValue(argv []string, flag string) string {
	for i, a := range argv {
		if a == flag && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}
