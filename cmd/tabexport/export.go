package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bjaus/tabexport"
	"github.com/bjaus/tabexport/internal/filehost"
	"github.com/bjaus/tabexport/pipeline"
)

type exportFlags struct {
	dataset  string
	formID   int
	formType string
	format   string
	output   string
	options  map[string]string
}

func newExportCmd(a *app) *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Encode a dataset file or a stored form into one format",
		Long: `Encode a dataset into one export format.

The dataset is either a YAML or JSON file with headers, rows and meta
(--dataset), or the entries of a form in the configured data file
(--form-id with --form-type). Output goes to --output, a generated file name
inside a directory given with a trailing slash, or stdout.`,
		Example: `  tabexport export --dataset contacts.yaml --format xml
  tabexport export --form-id 3 --form-type quiz --format excel -o exports/
  tabexport export --dataset contacts.json -f csv --option delimiter=';' --option bom=0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.export(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "dataset file (YAML or JSON)")
	cmd.Flags().IntVar(&f.formID, "form-id", 0, "form id in the configured data file")
	cmd.Flags().StringVar(&f.formType, "form-type", "", "form type: custom_form, quiz or poll")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "export format (default from export.default_format)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file, or directory when it ends in a slash")
	cmd.Flags().StringToStringVar(&f.options, "option", nil, "format option as key=value")
	cmd.MarkFlagsMutuallyExclusive("dataset", "form-id")
	return cmd
}

func (a *app) export(ctx context.Context, stdout io.Writer, f *exportFlags) error {
	reg := a.registry()
	id := f.format
	if id == "" {
		id = a.cfg.Export.DefaultFormat
	}
	enc, err := reg.Lookup(id)
	if err != nil {
		return err
	}

	var ds *tabexport.Dataset
	switch {
	case f.dataset != "":
		ds, err = readDataset(f.dataset)
	case f.formID > 0:
		ds, err = a.formDataset(ctx, reg, f)
	default:
		err = errors.New("one of --dataset or --form-id is required")
	}
	if err != nil {
		return err
	}

	opts := tabexport.ResolveOptions(enc, f.options)
	data, err := tabexport.Marshal(enc, ds, opts)
	if err != nil {
		return err
	}

	if f.output == "" || f.output == "-" {
		_, err = stdout.Write(data)
		return err
	}
	path := f.output
	if info, statErr := os.Stat(path); (statErr == nil && info.IsDir()) || os.IsPathSeparator(path[len(path)-1]) {
		d := enc.Descriptor()
		path = filepath.Join(path, pipeline.Filename(a.cfg.Export.FilenamePrefix, ds.Meta.FormName, d.Extension, time.Now()))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"format": enc.Descriptor().ID, "rows": len(ds.Rows), "file": path}).Info("Export written")
	return nil
}

// readDataset decodes a dataset file. JSON is read through the YAML decoder.
func readDataset(path string) (*tabexport.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var ds tabexport.Dataset
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if len(ds.Headers) == 0 {
		return nil, fmt.Errorf("dataset %s has no headers", path)
	}
	return &ds, nil
}

func (a *app) formDataset(ctx context.Context, reg *tabexport.Registry, f *exportFlags) (*tabexport.Dataset, error) {
	if a.cfg.Storage.DataFile == "" {
		return nil, errors.New("storage.data_file is required with --form-id")
	}
	typ, ok := pipeline.ParseFormType(f.formType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown form type %q", pipeline.ErrInvalidRequest, f.formType)
	}
	host, err := filehost.Open(a.cfg.Storage.DataFile)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pipeline.Config{
		Registry:   reg,
		Settings:   a.cfg.Export,
		Host:       host,
		Authorizer: localCaller{},
		Logger:     a.log,
	})
	if err != nil {
		return nil, err
	}
	return p.Dataset(ctx, &pipeline.ExportRequest{FormID: f.formID, FormType: typ})
}

// localCaller authorizes command line exports, which run with the
// operator's own access to the data file.
type localCaller struct{}

func (localCaller) CanExport(context.Context) bool            { return true }
func (localCaller) VerifyNonce(context.Context, string) bool { return true }
