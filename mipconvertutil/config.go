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

package mipconvertutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/mapping"
	"github.com/spatialmodel/mipconvert/pipeline"
	"github.com/spf13/cast"
)

// ConvertConfig holds the settings of a conversion batch.
type ConvertConfig struct {
	MappingFiles   []string
	ConstantsFiles []string
	Model          mapping.ModelConfig

	InputTemplate string
	MaskMDI       bool

	OutputDir        string
	OutputAttributes map[string]string

	Requests []string
	Tables   []string
	Stream   string
	Range    pipeline.TimeRange

	Workers   int
	CacheSize int

	Ledger string
	Resume bool

	LogLevel string
	LogFile  string
}

// convertConfig reads a ConvertConfig from a viper configuration,
// expanding environment variables in paths.
func convertConfig(cfg *viper.Viper) (*ConvertConfig, error) {
	c := &ConvertConfig{
		MappingFiles:   expandStringSlice(cfg.GetStringSlice("MappingFiles")),
		ConstantsFiles: expandStringSlice(cfg.GetStringSlice("ConstantsFiles")),
		Model:          modelConfig(cfg),
		InputTemplate:  os.ExpandEnv(cfg.GetString("InputTemplate")),
		MaskMDI:        cfg.GetBool("MaskMDI"),
		OutputDir:      os.ExpandEnv(cfg.GetString("OutputDir")),
		Requests:       cfg.GetStringSlice("Requests"),
		Tables:         cfg.GetStringSlice("Tables"),
		Stream:         os.ExpandEnv(cfg.GetString("Stream")),
		Ledger:         os.ExpandEnv(cfg.GetString("Ledger")),
		Resume:         cfg.GetBool("Resume"),
		LogLevel:       cfg.GetString("LogLevel"),
		LogFile:        os.ExpandEnv(cfg.GetString("LogFile")),
	}
	if len(c.MappingFiles) == 0 {
		return nil, fmt.Errorf("mipconvert: no mapping files are specified. Please fill in " +
			"the MappingFiles configuration and try again")
	}
	if c.Model.ID == "" {
		return nil, fmt.Errorf("mipconvert: the Model.ID configuration variable must be set")
	}
	if c.InputTemplate == "" {
		return nil, fmt.Errorf("mipconvert: the InputTemplate configuration variable must be set")
	}
	if len(c.Requests) == 0 && len(c.Tables) == 0 {
		return nil, fmt.Errorf("mipconvert: nothing to convert: set Requests or Tables")
	}
	if c.Resume && c.Ledger == "" {
		return nil, fmt.Errorf("mipconvert: Resume needs a Ledger")
	}
	var err error
	if c.Range, err = pipeline.ParseTimeRange(cfg.GetString("TimeRange")); err != nil {
		return nil, err
	}
	if c.Workers, err = cast.ToIntE(cfg.Get("Workers")); err != nil {
		return nil, fmt.Errorf("mipconvert: reading Workers: %v", err)
	}
	if c.CacheSize, err = cast.ToIntE(cfg.Get("CacheSize")); err != nil {
		return nil, fmt.Errorf("mipconvert: reading CacheSize: %v", err)
	}
	if c.Workers < 1 {
		return nil, fmt.Errorf("mipconvert: Workers must be at least 1 but is %d", c.Workers)
	}
	if c.OutputAttributes, err = GetStringMapString("OutputAttributes", cfg); err != nil {
		return nil, err
	}
	for k, v := range c.OutputAttributes {
		c.OutputAttributes[k] = os.ExpandEnv(v)
	}
	return c, nil
}

func modelConfig(cfg *viper.Viper) mapping.ModelConfig {
	return mapping.ModelConfig{
		ID:      os.ExpandEnv(cfg.GetString("Model.ID")),
		Version: os.ExpandEnv(cfg.GetString("Model.Version")),
	}
}

func loadConstants(cfg *viper.Viper) (*mipconvert.Constants, error) {
	return mipconvert.LoadConstants(expandStringSlice(cfg.GetStringSlice("ConstantsFiles"))...)
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		d := json.NewDecoder(bytes.NewBufferString(v))
		if err := d.Decode(&o); err != nil {
			return nil, fmt.Errorf("mipconvert: reading %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("mipconvert: invalid type for %s: %#v", varName, i)
	}
}

// parseRequest splits a "table/variable" pair.
func parseRequest(s string) (table, variable string, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("mipconvert: request %q must be \"table/variable\"", s)
	}
	return parts[0], parts[1], nil
}

// Requests returns one request for each table/variable pair in pairs and
// for each variable of the given MIP tables that t maps for model m.
// Duplicates are removed; pairs come first, in the order given.
func Requests(t *mapping.Table, pairs, tables []string, stream string, r pipeline.TimeRange, m mapping.ModelConfig) ([]pipeline.Request, error) {
	type key struct{ table, variable string }
	seen := make(map[key]bool)
	var reqs []pipeline.Request
	add := func(table, variable string) {
		k := key{table, variable}
		if seen[k] {
			return
		}
		seen[k] = true
		reqs = append(reqs, pipeline.NewRequest(table, variable, stream, r))
	}
	for _, p := range pairs {
		table, variable, err := parseRequest(p)
		if err != nil {
			return nil, err
		}
		add(table, variable)
	}
	want := make(map[string]bool, len(tables))
	for _, table := range tables {
		want[strings.TrimSpace(table)] = true
	}
	for _, rec := range t.Records() {
		if want[rec.Table] && rec.Applies(m) {
			add(rec.Table, rec.Variable)
		}
	}
	return reqs, nil
}
