/*
 * Copyright The scstconf Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// scstconf converges the live SCST configuration onto a declarative
// configuration file, through the SCST sysfs control filesystem.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/openscst/scstconf/internal/config"
	"github.com/openscst/scstconf/internal/engine"
	"github.com/openscst/scstconf/internal/kmod"
	"github.com/openscst/scstconf/internal/lockfile"
	"github.com/openscst/scstconf/internal/plan"
	"github.com/openscst/scstconf/internal/scstfs"
	"github.com/openscst/scstconf/internal/state"
)

// version is stamped at build time via -ldflags.
var version = "devel"

type Flags struct {
	root         string
	timeoutSecs  int
	logLevel     int
	modulePolicy string
	lockFile     string
	suspend      int
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode := 1
		if coder, ok := err.(cli.ExitCoder); ok {
			exitCode = coder.ExitCode()
		}
		os.Exit(exitCode)
	}
}

func newApp() *cli.App {
	flags := &Flags{}
	app := &cli.App{
		Name:            "scstconf",
		Usage:           "scstconf converges the SCST subsystem onto a declarative configuration.",
		Version:         version,
		HideHelpCommand: true,
		ExitErrHandler:  func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "root",
				Usage:       "Root of the SCST control filesystem.",
				Value:       scstfs.DefaultRoot,
				Destination: &flags.root,
				EnvVars:     []string{"SCST_SYSFS_ROOT"},
			},
			&cli.IntFlag{
				Name:        "timeout",
				Usage:       "Per-operation timeout in seconds for control filesystem access.",
				Value:       int(scstfs.DefaultTimeout / time.Second),
				Destination: &flags.timeoutSecs,
				EnvVars:     []string{"SCSTCONF_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:        "log-level",
				Usage:       "Log verbosity (0 = quiet, higher is chattier).",
				Value:       0,
				Destination: &flags.logLevel,
				EnvVars:     []string{"SCSTCONF_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:        "module-policy",
				Usage:       "TOML file overriding the handler/driver to kernel-module mapping.",
				Destination: &flags.modulePolicy,
				EnvVars:     []string{"SCSTCONF_MODULE_POLICY"},
			},
			&cli.StringFlag{
				Name:        "lock-file",
				Usage:       "Lock file serializing mutating runs.",
				Value:       "/run/scstconf.lock",
				Destination: &flags.lockFile,
				EnvVars:     []string{"SCSTCONF_LOCK_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			fs := goflag.NewFlagSet("klog", goflag.ContinueOnError)
			klog.InitFlags(fs)
			return fs.Set("v", strconv.Itoa(flags.logLevel))
		},
		Commands: []*cli.Command{
			applyCommand(flags),
			checkCommand(flags),
			clearCommand(flags),
			dumpCommand(flags),
		},
	}
	return app
}

func (f *Flags) client() *scstfs.Client {
	return scstfs.New(f.root, time.Duration(f.timeoutSecs)*time.Second)
}

func (f *Flags) policy() (kmod.Policy, error) {
	if f.modulePolicy == "" {
		return kmod.DefaultPolicy(), nil
	}
	return kmod.LoadPolicyFile(f.modulePolicy)
}

// signalContext returns a context canceled on the usual termination signals,
// so a convergence run stops cleanly between operations.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

func applyCommand(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Parse a configuration file and converge the subsystem onto it",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "suspend",
				Usage:       "Suspend I/O with this value while reconfiguring (0 = no suspension).",
				Destination: &flags.suspend,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("exactly one configuration file expected")
			}
			desired, err := config.ParseFile(c.Args().First())
			if err != nil {
				return err
			}
			if err := config.Validate(desired); err != nil {
				return err
			}
			policy, err := flags.policy()
			if err != nil {
				return err
			}

			lock, err := lockfile.Acquire(flags.lockFile)
			if err != nil {
				return err
			}
			defer lock.Release()

			ctx, stop := signalContext()
			defer stop()

			eng := engine.New(flags.client(), engine.Options{
				Suspend: flags.suspend,
				Policy:  policy,
				Loader:  kmod.ExecLoader{Timeout: time.Duration(flags.timeoutSecs) * time.Second},
			})
			return eng.Apply(ctx, desired)
		},
	}
}

func checkCommand(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Show what apply would change, without mutating anything",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("exactly one configuration file expected")
			}
			desired, err := config.ParseFile(c.Args().First())
			if err != nil {
				return err
			}
			if err := config.Validate(desired); err != nil {
				return err
			}
			current, err := state.Read(flags.client())
			if err != nil {
				return err
			}
			p := plan.Diff(desired, current)
			actions := p.Actions()
			if len(actions) == 0 {
				fmt.Println("configuration is up to date")
				return nil
			}
			for _, action := range actions {
				fmt.Println(action)
			}
			return cli.Exit(fmt.Sprintf("%d changes pending", len(actions)), 2)
		},
	}
}

func clearCommand(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove the entire configuration, leaving only the built-in copy manager",
		Action: func(c *cli.Context) error {
			lock, err := lockfile.Acquire(flags.lockFile)
			if err != nil {
				return err
			}
			defer lock.Release()

			ctx, stop := signalContext()
			defer stop()

			eng := engine.New(flags.client(), engine.Options{})
			return eng.Clear(ctx)
		},
	}
}

func dumpCommand(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Serialize the current live configuration to stdout",
		Action: func(c *cli.Context) error {
			current, err := state.Read(flags.client())
			if err != nil {
				return err
			}
			fmt.Print(config.Format(current))
			return nil
		},
	}
}
