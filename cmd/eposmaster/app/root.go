package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const Component = "eposmaster"

// Set at build time with -ldflags "-X .../app.Version=..."
var Version = "dev"

type Options struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
	Simulate   bool
	Loops      int
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", "", "INI settings file, defaults are used when empty")
	fs.StringVar(&o.EnvFile, "env-file", ".env", "optional file of EPOSMASTER_* variables")
	fs.StringVar(&o.LogLevel, "log-level", "", "overrides the log level of the settings")
}

func NewRootCmd() *cobra.Command {
	o := &Options{}
	cmd := &cobra.Command{
		Use:           Component,
		Short:         "CANopen master for an EPOS4 drive",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	o.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(newRunCmd(o), newStatusCmd(), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", Component, Version)
		},
	}
}
