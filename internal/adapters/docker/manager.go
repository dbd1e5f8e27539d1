package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/manthysbr/pdfmill/internal/adapters/office"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

const (
	containerInDir  = "/convert/in"
	containerOutDir = "/convert/out"
	managedLabel    = "pdfmill.managed"
)

// Converter runs LibreOffice in a throwaway container with the source and
// output directories bind-mounted.
type Converter struct {
	cli     *client.Client
	logger  *slog.Logger
	image   string
	timeout time.Duration
}

// NewConverter creates a Docker client from the environment.
func NewConverter(logger *slog.Logger, image string, timeout time.Duration) (*Converter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if timeout <= 0 {
		timeout = office.DefaultTimeout
	}
	return &Converter{cli: cli, logger: logger, image: image, timeout: timeout}, nil
}

var _ ports.OfficeConverter = (*Converter)(nil)

func (c *Converter) ConvertToPDF(ctx context.Context, src, outDir string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inDir, err := filepath.Abs(filepath.Dir(src))
	if err != nil {
		return "", err
	}
	outDir, err = filepath.Abs(outDir)
	if err != nil {
		return "", err
	}
	// The container user differs from ours.
	_ = os.Chmod(outDir, 0o777)

	name := "pdfmill-convert-" + uuid.NewString()
	cfg := &container.Config{
		Image: c.image,
		Cmd: []string{
			"soffice",
			"-env:UserInstallation=file:///tmp/profile",
			"--headless",
			"--convert-to", "pdf",
			"--outdir", containerOutDir,
			containerInDir + "/" + filepath.Base(src),
		},
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: true,
		Labels:          map[string]string{managedLabel: "true"},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: inDir, Target: containerInDir, ReadOnly: true},
			{Type: mount.TypeBind, Source: outDir, Target: containerOutDir},
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,nosuid,size=256m",
		},
	}

	id, err := c.create(runCtx, cfg, hostCfg, name)
	if err != nil {
		return "", c.classify(ctx, runCtx, err)
	}
	defer func() {
		// Force removal also kills a container that outlived the timeout.
		rmCtx, rmCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer rmCancel()
		if err := c.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			c.logger.Warn("failed to remove conversion container", "container", name, "error", err)
		}
	}()

	if err := c.cli.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return "", c.classify(ctx, runCtx, fmt.Errorf("failed to start container: %w", err))
	}

	statusCh, errCh := c.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return "", c.classify(ctx, runCtx, fmt.Errorf("failed to wait for container: %w", err))
	case status := <-statusCh:
		if status.Error != nil {
			return "", fmt.Errorf("conversion container failed: %s", status.Error.Message)
		}
		if status.StatusCode != 0 {
			return "", fmt.Errorf("conversion container exited with %d", status.StatusCode)
		}
	case <-runCtx.Done():
		return "", c.classify(ctx, runCtx, runCtx.Err())
	}

	out := office.OutputPath(src, outDir)
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("conversion container produced no output: %w", err)
	}
	return out, nil
}

// create pulls the image on first use.
func (c *Converter) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		c.logger.Info("pulling converter image", "image", c.image)
		reader, pullErr := c.cli.ImagePull(ctx, c.image, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", c.image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = c.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

// classify reports the converter's own deadline as context.DeadlineExceeded
// and the caller's cancellation as is.
func (c *Converter) classify(parent, run context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if run.Err() != nil {
		return fmt.Errorf("conversion timed out after %s: %w", c.timeout, context.DeadlineExceeded)
	}
	return err
}
