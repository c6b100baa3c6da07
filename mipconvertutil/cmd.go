/*
Copyright © 2026 the MIPConvert authors.
This file is part of MIPConvert.

MIPConvert is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

MIPConvert is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with MIPConvert.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package mipconvertutil contains the command-line interface for
// MIPConvert.
package mipconvertutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/mipconvert"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to MIPConvert.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages: one of debug,
              info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile, if set, is the path of a file that log messages are
              written to instead of standard error. It can include environment
              variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "MappingFiles",
			usage: `
              MappingFiles lists the TOML mapping files, in order. Records in
              later files are combined with those in earlier ones. The paths can
              include environment variables.`,
			shorthand:  "m",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{convertCmd.Flags(), mappingsCmd.Flags()},
		},
		{
			name: "ConstantsFiles",
			usage: `
              ConstantsFiles lists TOML files of named constants that override
              and extend the built-in constants.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{convertCmd.Flags(), mappingsCmd.Flags()},
		},
		{
			name: "Model.ID",
			usage: `
              Model.ID is the identifier of the model configuration being
              converted, for example UKESM1-0-LL.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags(), mappingsCmd.Flags()},
		},
		{
			name: "Model.Version",
			usage: `
              Model.Version is the version of the model that produced the
              data. Mapping records with a version constraint that it does not
              satisfy are not used.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags(), mappingsCmd.Flags()},
		},
		{
			name: "InputTemplate",
			usage: `
              InputTemplate is the path of the model output files. [STREAM],
              [SOURCE] and [MODEL] are replaced by the output stream, the
              source field name and the model identifier. It can include
              environment variables.`,
			shorthand:  "i",
			defaultVal: "[STREAM]/[SOURCE].nc",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "MaskMDI",
			usage: `
              MaskMDI specifies whether cells holding the Unified Model
              missing data indicator are treated as missing in files that do
              not declare a fill value.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory that converted variables are written
              to. It is created if it does not exist.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "OutputAttributes",
			usage: `
              OutputAttributes are global attributes added to every output
              file, given as a JSON object on the command line.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "Requests",
			usage: `
              Requests lists the variables to convert as MIP table and
              variable name pairs, for example Amon/tas.`,
			shorthand:  "r",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "Tables",
			usage: `
              Tables lists MIP tables for which every mapped variable is
              converted.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "Stream",
			usage: `
              Stream is the model output stream that source fields are read
              from.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "TimeRange",
			usage: `
              TimeRange is the period to convert, given as "start,end" where
              end is exclusive and either date may be omitted.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of variables converted at once.`,
			shorthand:  "w",
			defaultVal: runtime.GOMAXPROCS(-1),
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "CacheSize",
			usage: `
              CacheSize is the number of loaded source fields kept in memory.
              Zero means twice the number of workers.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "Ledger",
			usage: `
              Ledger is the path of a SQLite database that the outcome of every
              request is recorded in. No outcomes are recorded if it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "Resume",
			usage: `
              Resume specifies whether requests that the ledger records as
              delivered are skipped.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("MIPCONVERT")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(convertCmd)
	Root.AddCommand(processorsCmd)
	Root.AddCommand(mappingsCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("mipconvert: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "mipconvert",
	Short: "Convert climate model output to MIP variables.",
	Long: `MIPConvert reformats raw climate model output into variables that conform
to a Model Intercomparison Project data request. Use the subcommands specified
below to access its functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'MIPCONVERT_var' where 'var' is the
name of the variable to be set. Many configuration variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of MIPConvert.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("MIPConvert v%s\n", mipconvert.Version)
	},
	DisableAutoGenTag: true,
}

// convertCmd converts a batch of requested variables.
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert model output to MIP variables.",
	Long: `convert derives the requested MIP variables from model output using the
mapping files and writes one NetCDF file per variable. A summary of the outcome
of every request is printed when the batch finishes. The command fails if any
request failed; unmapped variables and missing inputs do not stop the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := convertConfig(Cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return Convert(ctx, cfg, cmd.OutOrStdout(), os.Stderr)
	},
	DisableAutoGenTag: true,
}

// processorsCmd lists the available processors and fixers.
var processorsCmd = &cobra.Command{
	Use:   "processors",
	Short: "List processors and fixers",
	Long: `processors lists the processors that mapping records can name, with their
parameters, followed by the metadata fixers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ListProcessors(cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

// mappingsCmd checks mapping files.
var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Check mapping files",
	Long: `mappings reads the mapping files, checking every record, and reports the
variables whose mapping is ambiguous for the configured model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		consts, err := loadConstants(Cfg)
		if err != nil {
			return err
		}
		return CheckMappings(cmd.OutOrStdout(), consts, expandStringSlice(Cfg.GetStringSlice("MappingFiles")), modelConfig(Cfg))
	},
	DisableAutoGenTag: true,
}
