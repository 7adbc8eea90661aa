package backupengine

import (
	"fmt"

	"github.com/mcpilot/mcpilot/internal/backupengine/backends"
	"github.com/mcpilot/mcpilot/internal/config"
)

// BackendFromConfig builds the replication backend named by the config, or
// nil when replication is not configured.
func BackendFromConfig(cfg config.ReplicationConfig) (backends.Backend, error) {
	var backend backends.Backend
	switch cfg.Backend {
	case "":
		return nil, nil
	case "local":
		backend = &backends.LocalBackend{Dir: cfg.Dir}
	case "s3":
		backend = &backends.S3Backend{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
		}
	default:
		return nil, fmt.Errorf("unknown replication backend %q", cfg.Backend)
	}
	if err := backend.Validate(); err != nil {
		return nil, err
	}
	return backend, nil
}
