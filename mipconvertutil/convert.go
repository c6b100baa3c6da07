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
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/fix"
	"github.com/spatialmodel/mipconvert/ledger"
	"github.com/spatialmodel/mipconvert/mapping"
	"github.com/spatialmodel/mipconvert/ncio"
	"github.com/spatialmodel/mipconvert/pipeline"
	"github.com/spatialmodel/mipconvert/process"
)

// newLogger returns a logger writing to file, or to stderr if file is
// empty. Colours are only used on a terminal. The returned function
// closes the log file.
func newLogger(level, file string, stderr io.Writer) (*logrus.Logger, func() error, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("mipconvert: %v", err)
	}
	log := logrus.New()
	log.Level = lvl
	closer := func() error { return nil }
	out := stderr
	if file != "" {
		f, err := os.Create(file)
		if err != nil {
			return nil, nil, fmt.Errorf("mipconvert: creating log file: %v", err)
		}
		out, closer = f, f.Close
	}
	colour := terminal(out)
	log.Out = out
	log.Formatter = &logrus.TextFormatter{
		ForceColors:     colour,
		DisableColors:   !colour,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	}
	return log, closer, nil
}

func terminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// loadMappings reads the mapping files, checking the processors and fixers
// that each record names.
func loadMappings(consts *mipconvert.Constants, procs *process.Registry, fixers *fix.Registry, files []string) (*mapping.Table, error) {
	return mapping.Load(consts, fixers.Validator(consts, procs.Validator(consts)), files...)
}

// Convert runs a conversion batch, writing the summary to out and log
// messages to stderr or the configured log file. It returns an error if
// the batch could not be started or any request failed.
func Convert(ctx context.Context, cfg *ConvertConfig, out, stderr io.Writer) error {
	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	consts, err := mipconvert.LoadConstants(cfg.ConstantsFiles...)
	if err != nil {
		return err
	}
	procs := process.Default()
	fixers := fix.Default()
	fixers.Constants, fixers.Log = consts, log

	mappings, err := loadMappings(consts, procs, fixers, cfg.MappingFiles)
	if err != nil {
		return err
	}
	for _, err := range mappings.Lint(cfg.Model) {
		log.WithError(err).Warn("ambiguous mapping")
	}
	reqs, err := Requests(mappings, cfg.Requests, cfg.Tables, cfg.Stream, cfg.Range, cfg.Model)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("mipconvert: no variables in tables %s are mapped for %s",
			strings.Join(cfg.Tables, ", "), cfg.Model)
	}

	p := &pipeline.Pipeline{
		Mappings:   mappings,
		Processors: procs,
		Fixers:     fixers,
		Constants:  consts,
		Loader:     &ncio.Loader{Template: cfg.InputTemplate, MaskMDI: cfg.MaskMDI, Log: log},
		Writer: &ncio.Writer{
			Dir:        cfg.OutputDir,
			Model:      cfg.Model,
			Attributes: cfg.OutputAttributes,
			Log:        log,
		},
		Model:     cfg.Model,
		Workers:   cfg.Workers,
		CacheSize: cfg.CacheSize,
		Log:       log,
	}
	if cfg.Ledger != "" {
		l, err := ledger.Open(cfg.Ledger)
		if err != nil {
			return err
		}
		defer l.Close()
		l.Log = log
		p.Recorder = l
		if cfg.Resume {
			p.Skip = l.Skip
		}
	}

	s := p.Run(ctx, reqs)
	if err := s.Render(out); err != nil {
		return err
	}
	if s.ExitCode() != 0 {
		return fmt.Errorf("mipconvert: %d of %d requests failed", s.Count(pipeline.Failed), len(reqs))
	}
	return nil
}

// ListProcessors writes the registered processors and fixers to w.
func ListProcessors(w io.Writer) error {
	procs := process.Default()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Processor", "Family", "Inputs", "Parameters", "Description"})
	for _, name := range procs.Names() {
		p, _ := procs.Lookup(name)
		t.AppendRow(table.Row{p.Name, p.Family, inputRange(p), paramList(p.Params), p.Doc})
	}
	t.Render()

	fixers := fix.Default()
	t = table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Fixer", "Parameters", "Description"})
	for _, name := range fixers.Names() {
		f, _ := fixers.Lookup(name)
		t.AppendRow(table.Row{f.Name, paramList(f.Params), f.Doc})
	}
	t.Render()
	return nil
}

func inputRange(p *process.Processor) string {
	switch {
	case p.MaxInputs == process.Unlimited:
		return fmt.Sprintf("%d+", p.MinInputs)
	case p.MinInputs == p.MaxInputs:
		return fmt.Sprint(p.MinInputs)
	default:
		return fmt.Sprintf("%d-%d", p.MinInputs, p.MaxInputs)
	}
}

func paramList(specs []mipconvert.ParamSpec) string {
	s := make([]string, len(specs))
	for i, p := range specs {
		s[i] = p.Name + " (" + p.Kind.String()
		if p.Required {
			s[i] += ", required"
		}
		s[i] += ")"
	}
	return strings.Join(s, "\n")
}

// CheckMappings reads the mapping files and reports every variable whose
// mapping is ambiguous for model m. It returns an error if a file is
// invalid or any mapping is ambiguous.
func CheckMappings(w io.Writer, consts *mipconvert.Constants, files []string, m mapping.ModelConfig) error {
	if len(files) == 0 {
		return fmt.Errorf("mipconvert: no mapping files are specified")
	}
	fixers := fix.Default()
	fixers.Constants = consts
	t, err := loadMappings(consts, process.Default(), fixers, files)
	if err != nil {
		return err
	}
	errs := t.Lint(m)
	for _, err := range errs {
		fmt.Fprintln(w, err)
	}
	fmt.Fprintf(w, "%d mapping records checked for %s\n", t.Len(), m)
	if len(errs) > 0 {
		return fmt.Errorf("mipconvert: %d ambiguous mappings", len(errs))
	}
	return nil
}
