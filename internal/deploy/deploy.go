// Package deploy extracts the compressed system image and synchronizes
// it into the mounted root dataset.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/pkg/shell"
)

var (
	ErrImageMissing = errors.New("image source not found")
	ErrExtraction   = errors.New("image extraction failed")
	ErrCopy         = errors.New("synchronization into root failed")
)

// DeployedRoot is the handle handed to the configurator.
type DeployedRoot struct {
	Mount   string
	Staging string
}

type Deployer struct {
	run        shell.Runner
	log        zerolog.Logger
	stagingDir string
}

func NewDeployer(r shell.Runner, log zerolog.Logger, stagingDir string) *Deployer {
	return &Deployer{
		run:        r,
		log:        log.With().Str("component", "deploy").Logger(),
		stagingDir: stagingDir,
	}
}

// Deploy extracts imageSource into the staging area and rsyncs it into
// rootMount. A partial staging tree from an earlier failed attempt is
// wiped first, and the sync uses --delete, so a restart always converges
// to the image contents rather than an ambiguous half-written state.
func (d *Deployer) Deploy(ctx context.Context, rootMount, imageSource string) (DeployedRoot, error) {
	out := DeployedRoot{Mount: rootMount, Staging: d.stagingDir}
	if _, err := os.Stat(imageSource); err != nil {
		return out, fmt.Errorf("%w: %s", ErrImageMissing, imageSource)
	}
	if _, err := os.Stat(d.stagingDir); err == nil {
		d.log.Warn().Str("staging", d.stagingDir).Msg("wiping stale staging area from a previous attempt")
		if err := os.RemoveAll(d.stagingDir); err != nil {
			return out, fmt.Errorf("%w: clear staging: %v", ErrExtraction, err)
		}
	}
	if err := os.MkdirAll(d.stagingDir, 0o755); err != nil {
		return out, fmt.Errorf("%w: create staging: %v", ErrExtraction, err)
	}

	d.log.Info().Str("image", imageSource).Str("staging", d.stagingDir).Msg("extracting system image")
	if _, err := d.run.Run(ctx, 30*time.Minute, "unsquashfs", "-f", "-d", d.stagingDir, imageSource); err != nil {
		return out, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	d.log.Info().Str("root", rootMount).Msg("synchronizing image into root dataset")
	if _, err := d.run.Run(ctx, 60*time.Minute, "rsync",
		"-aHAXS", "--delete", d.stagingDir+"/", rootMount+"/"); err != nil {
		return out, fmt.Errorf("%w: %v", ErrCopy, err)
	}
	return out, nil
}

// CleanStaging removes the staging area; used both after a successful
// sync and as the deployment stage's cleanup on failure.
func (d *Deployer) CleanStaging() error {
	if err := os.RemoveAll(d.stagingDir); err != nil {
		return fmt.Errorf("remove staging %s: %w", d.stagingDir, err)
	}
	return nil
}
