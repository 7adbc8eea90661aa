package updates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/execx/execxtest"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/rs/zerolog"
)

func newTestChecker(fake *execxtest.Fake, containers *containerctl.Client) *Checker {
	return NewChecker(fake, containers, "git", nil, zerolog.Nop())
}

func repoServer(revision, version string) *models.ServerRecord {
	return &models.ServerRecord{
		ID:       "srv-1",
		Name:     "demo",
		RepoURL:  "https://github.com/acme/demo",
		Revision: revision,
		Version:  version,
	}
}

func TestProbeRepoUpToDate(t *testing.T) {
	fake := execxtest.New()
	fake.Respond("git log -1", execxtest.Response{Stdout: "abc123\nfix: things\n2026-08-01T10:00:00Z\n"})
	fake.Respond("git describe", execxtest.Response{Stdout: "v1.2.0\n"})

	info, err := newTestChecker(fake, nil).Probe(context.Background(), repoServer("abc123", "v1.2.0"))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.UpdateAvailable {
		t.Fatal("no update expected when revision and tag match")
	}
	if info.LatestVersion != "v1.2.0" || info.Revision != "abc123" {
		t.Fatalf("info = %+v", info)
	}
	if info.CommittedAt.IsZero() {
		t.Fatal("committed_at not parsed")
	}
}

func TestProbeRepoNewRevision(t *testing.T) {
	fake := execxtest.New()
	fake.Respond("git log -1", execxtest.Response{Stdout: "def456\nfeat: more\n2026-08-20T09:00:00Z\n"})
	fake.Respond("git describe", execxtest.Response{Stdout: "v1.3.0\n"})

	info, err := newTestChecker(fake, nil).Probe(context.Background(), repoServer("abc123", "v1.2.0"))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !info.UpdateAvailable {
		t.Fatal("update expected for new revision")
	}
	if info.LatestVersion != "v1.3.0" {
		t.Fatalf("latest_version = %q", info.LatestVersion)
	}
}

func TestProbeRepoUntagged(t *testing.T) {
	fake := execxtest.New()
	fake.Respond("git log -1", execxtest.Response{Stdout: "def456\nfeat: more\n2026-08-20T09:00:00Z\n"})
	fake.Respond("git describe", execxtest.Response{ExitCode: 128, Err: errors.New("exit status 128")})

	info, err := newTestChecker(fake, nil).Probe(context.Background(), repoServer("abc123", ""))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !info.UpdateAvailable || info.LatestVersion != "latest" {
		t.Fatalf("info = %+v", info)
	}
}

func TestProbeRejectsNonGitHubRemote(t *testing.T) {
	server := repoServer("abc", "v1")
	server.RepoURL = "https://gitlab.com/acme/demo"

	_, err := newTestChecker(execxtest.New(), nil).Probe(context.Background(), server)
	if faults.KindOf(err) != faults.PreconditionFailed {
		t.Fatalf("kind = %v (%v)", faults.KindOf(err), err)
	}
}

func TestProbeCloneFailureIsUnreachable(t *testing.T) {
	fake := execxtest.New()
	fake.Respond("git clone", execxtest.Response{
		ExitCode: 128,
		Stderr:   "fatal: unable to access",
		Err:      errors.New("exit status 128"),
	})

	_, err := newTestChecker(fake, nil).Probe(context.Background(), repoServer("abc", "v1"))
	if faults.KindOf(err) != faults.Unreachable {
		t.Fatalf("kind = %v (%v)", faults.KindOf(err), err)
	}
}

func TestProbeImage(t *testing.T) {
	fake := execxtest.New()
	fake.Respond("docker image inspect", execxtest.Response{Stdout: "ghcr.io/acme/demo@sha256:def\n"})
	containers := containerctl.NewClient(fake, "docker", zerolog.Nop())

	server := &models.ServerRecord{
		ID:     "srv-2",
		Name:   "demo",
		Image:  "ghcr.io/acme/demo:latest",
		Digest: "ghcr.io/acme/demo@sha256:abc",
	}
	info, err := newTestChecker(fake, containers).Probe(context.Background(), server)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !info.UpdateAvailable {
		t.Fatal("update expected for changed digest")
	}
	if info.LatestVersion != "latest" || info.Digest != "ghcr.io/acme/demo@sha256:def" {
		t.Fatalf("info = %+v", info)
	}

	// Same digest means no update.
	server.Digest = "ghcr.io/acme/demo@sha256:def"
	info, err = newTestChecker(fake, containers).Probe(context.Background(), server)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.UpdateAvailable {
		t.Fatal("no update expected for matching digest")
	}
}

func TestProbeWithoutProvenance(t *testing.T) {
	_, err := newTestChecker(execxtest.New(), nil).Probe(context.Background(), &models.ServerRecord{ID: "srv-3"})
	if faults.KindOf(err) != faults.PreconditionFailed {
		t.Fatalf("kind = %v (%v)", faults.KindOf(err), err)
	}
}

func TestRecentProbeExpires(t *testing.T) {
	fake := execxtest.New()
	fake.Respond("git log -1", execxtest.Response{Stdout: "def\nx\n2026-08-20T09:00:00Z\n"})

	checker := newTestChecker(fake, nil)
	base := time.Unix(1700000000, 0)
	checker.now = func() time.Time { return base }

	if _, err := checker.Probe(context.Background(), repoServer("abc", "")); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if _, ok := checker.recentProbe("srv-1"); !ok {
		t.Fatal("fresh probe should be usable")
	}

	checker.now = func() time.Time { return base.Add(probeTTL + time.Second) }
	if _, ok := checker.recentProbe("srv-1"); ok {
		t.Fatal("stale probe should have expired")
	}
}

func TestImageTag(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"ghcr.io/acme/demo:v2", "v2"},
		{"ghcr.io/acme/demo", "latest"},
		{"localhost:5000/demo", "latest"},
		{"localhost:5000/demo:edge", "edge"},
	}
	for _, tt := range tests {
		if got := imageTag(tt.image); got != tt.want {
			t.Errorf("imageTag(%q) = %q, want %q", tt.image, got, tt.want)
		}
	}
}
