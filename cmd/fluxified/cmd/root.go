/*
Copyright 2024 The Fluxified Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	goerrors "github.com/go-errors/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2/textlogger"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/fluxified/fluxified/internal/config"
)

const (
	groupManagement = "group-management"
	groupOther      = "group-other"
)

var (
	log       logr.Logger
	logConfig = textlogger.NewConfig()

	cfg        = config.New()
	configFile string
)

// RootCmd is fluxified root CLI command.
var RootCmd = &cobra.Command{
	Use:          "fluxified",
	SilenceUsage: true,
	Short:        "fluxified bootstraps Flux on a cluster from the current GitHub repository",
	Long: LongDesc(`
		Bootstrap the Flux GitOps toolkit on a Kubernetes cluster using the GitHub
		repository checked out in the current directory, and ask the Flux controllers
		to reconcile everything they manage.`),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.ReadFile(configFile)
	},
}

// Execute executes the root command.
func Execute() {
	ctx := ctrl.LoggerInto(ctrl.SetupSignalHandler(), log)

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		if log.V(5).Enabled() {
			var stackErr *goerrors.Error
			if errors.As(err, &stackErr) {
				fmt.Fprintln(os.Stderr, stackErr.ErrorStack())
			}
		}

		os.Exit(1)
	}
}

func init() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	logConfig.AddFlags(flag.CommandLine)

	log = textlogger.NewLogger(logConfig)
	ctrl.SetLogger(log)

	RootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to a fluxified config file. If unspecified, fluxified.yaml is looked up in . and $HOME/.config/fluxified.")
	cobra.CheckErr(cfg.BindFlags(RootCmd.PersistentFlags(), config.GlobalOptions))

	RootCmd.AddGroup(
		&cobra.Group{
			ID:    groupManagement,
			Title: "Flux Management Commands:",
		},
		&cobra.Group{
			ID:    groupOther,
			Title: "Other Commands:",
		})

	RootCmd.SetHelpCommandGroupID(groupOther)
	RootCmd.SetCompletionCommandGroupID(groupOther)
}

// wrapStack attaches a stack trace printed at high verbosity.
func wrapStack(err error) error {
	if err == nil {
		return nil
	}

	return goerrors.Wrap(err, 1)
}

const indentation = `  `

// LongDesc normalizes a command's long description to follow the conventions.
func LongDesc(s string) string {
	if s == "" {
		return s
	}

	return normalizer{s}.heredoc().trim().string
}

// Examples normalizes a command's examples to follow the conventions.
func Examples(s string) string {
	if s == "" {
		return s
	}

	return normalizer{s}.trim().indent().string
}

type normalizer struct {
	string
}

func (s normalizer) heredoc() normalizer {
	s.string = heredoc.Doc(s.string)

	return s
}

func (s normalizer) trim() normalizer {
	s.string = strings.TrimSpace(s.string)

	return s
}

func (s normalizer) indent() normalizer {
	splitLines := strings.Split(s.string, "\n")
	indentedLines := make([]string, 0, len(splitLines))

	for _, line := range splitLines {
		trimmed := strings.TrimSpace(line)
		indented := indentation + trimmed
		indentedLines = append(indentedLines, indented)
	}

	s.string = strings.Join(indentedLines, "\n")

	return s
}
