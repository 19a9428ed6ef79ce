package vpn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-ondemand/common"
)

// FileController is a TunnelController that renders configurations as YAML
// files named <profile id>.yaml in Dir. The platform tunnel service picks
// them up from there.
type FileController struct {
	Dir string
}

// NewFileController creates a FileController writing into dir.
func NewFileController(dir string) *FileController {
	return &FileController{Dir: dir}
}

// Prepare writes cfg atomically. It fails if ctx is already done.
func (c *FileController) Prepare(ctx context.Context, profileID string, cfg *Configuration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCancelled, err)
	}
	if profileID == "" || filepath.Base(profileID) != profileID {
		return fmt.Errorf("invalid profile id %q", profileID)
	}

	data, err := MarshalConfiguration(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create tunnels directory: %w", err)
	}

	path := c.Path(profileID)
	if err := common.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write tunnel configuration: %w", err)
	}
	common.LogDebug("Wrote tunnel configuration %s", path)
	return nil
}

// Path returns the file Prepare writes for profileID.
func (c *FileController) Path(profileID string) string {
	return filepath.Join(c.Dir, profileID+".yaml")
}

// MarshalConfiguration renders cfg as YAML.
func MarshalConfiguration(cfg *Configuration) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return data, nil
}
