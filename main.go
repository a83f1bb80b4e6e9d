// neon-install provisions a KDE Neon desktop onto a ZFS root: GPT
// layout with an EFI partition, pool and dataset creation, squashfs
// image deployment and target configuration, with rollback of every
// destructive step on failure.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tkirkland/NeonInstall/internal/config"
	"github.com/tkirkland/NeonInstall/internal/configure"
	"github.com/tkirkland/NeonInstall/internal/deploy"
	"github.com/tkirkland/NeonInstall/internal/disks"
	"github.com/tkirkland/NeonInstall/internal/installer"
	"github.com/tkirkland/NeonInstall/internal/zfs"
	"github.com/tkirkland/NeonInstall/pkg/shell"
)

var (
	version = "1.0.0"
	commit  = "unknown"
)

type flags struct {
	yes      bool
	profile  string
	pool     string
	topology string
	devices  []string
	image    string
	logLevel string
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "neon-install",
		Short: "KDE Neon ZFS installer",
		Long: `neon-install provisions KDE Neon onto a ZFS root pool.
It partitions the selected disks, builds the pool and dataset tree,
deploys the live image and configures the target for first boot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}
	rootCmd.Flags().BoolVar(&f.yes, "yes", false, "unattended mode, no prompts; fails instead of guessing")
	rootCmd.Flags().StringVar(&f.profile, "profile", "", "path to a YAML install profile")
	rootCmd.Flags().StringVar(&f.pool, "pool", "", "pool name (overrides profile)")
	rootCmd.Flags().StringVar(&f.topology, "topology", "", "pool topology: single, mirror, raidz1, raidz2")
	rootCmd.Flags().StringSliceVar(&f.devices, "devices", nil, "target whole-disk paths")
	rootCmd.Flags().StringVar(&f.image, "image", "", "squashfs image source (overrides profile)")
	rootCmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neon-install %s (commit: %s)\n", version, commit)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	profile, err := config.Load(f.profile)
	if err != nil {
		return err
	}
	applyFlags(&profile, f)

	log, closeLog := setupLogging(profile)
	defer closeLog()

	showWelcome()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := shell.ExecRunner{}
	builder := zfs.NewBuilder(runner, log)
	deployer := deploy.NewDeployer(runner, log, installer.DefaultStaging)
	configurator := configure.NewConfigurator(runner, log)
	orch := installer.NewOrchestrator(log, builder, deployer, configurator,
		func(ctx context.Context) ([]disks.BlockDevice, error) {
			return disks.Discover(ctx, runner)
		})
	bar := progressbar.NewOptions(6,
		progressbar.OptionSetDescription("installing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	orch.OnStage = func(s installer.Stage) {
		bar.Describe(string(s))
		_ = bar.Add(1)
	}

	out := installer.New(log, orch, profile, f.yes).Run(ctx)
	report(out)
	if out.ExitCode() != 0 {
		os.Exit(out.ExitCode())
	}
	return nil
}

// applyFlags layers command-line overrides on top of the loaded
// profile; flags beat profile, profile beats defaults.
func applyFlags(p *config.Profile, f flags) {
	if f.pool != "" {
		p.PoolName = f.pool
	}
	if f.topology != "" {
		p.Topology = f.topology
	}
	if len(f.devices) > 0 {
		p.Devices = f.devices
	}
	if f.image != "" {
		p.Image = f.image
	}
	if f.logLevel != "" {
		if l, err := zerolog.ParseLevel(f.logLevel); err == nil {
			p.LogLevel = l
		}
	}
}

// setupLogging sends a console stream to stderr for the operator and
// the full JSON stream to the install log, falling back to the working
// directory when /var/log is not writable (e.g. a read-only live
// medium with a weird overlay).
func setupLogging(p config.Profile) (zerolog.Logger, func()) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	closer := func() {}

	logFile, err := os.OpenFile(p.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logFile, err = os.OpenFile("neon-install.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err == nil {
		writers = append(writers, logFile)
		closer = func() { _ = logFile.Close() }
	}
	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(p.LogLevel).With().Timestamp().Logger()
	return log, closer
}

func showWelcome() {
	color.Blue("\n╔═══════════════════════════════════════╗")
	color.Blue("║      KDE Neon ZFS Installer           ║")
	color.Blue("╚═══════════════════════════════════════╝\n")
	fmt.Println("This installer will:")
	fmt.Println("  1. Check prerequisites")
	fmt.Println("  2. Select target disks")
	fmt.Println("  3. Partition and build the ZFS pool")
	fmt.Println("  4. Deploy the system image")
	fmt.Println("  5. Configure the target for first boot")
	fmt.Println()
}

func report(out installer.Outcome) {
	if out.Err == nil {
		color.Green("\n✓ Installation complete.")
		fmt.Println("Remove the installation media and reboot.")
		fmt.Printf("First login: password %q must be changed immediately.\n", configure.DefaultPassword)
		return
	}
	color.Red("\n✗ Installation failed at stage %s: %v", out.FailedStage, out.Err)
	if len(out.CleanupErrors) == 0 {
		fmt.Println("Cleanup completed; the devices were returned to their prior state.")
	} else {
		msgs := make([]string, len(out.CleanupErrors))
		for i, e := range out.CleanupErrors {
			msgs[i] = e.Error()
		}
		color.Red("Cleanup itself failed, manual intervention needed:\n  %s",
			strings.Join(msgs, "\n  "))
	}
}
