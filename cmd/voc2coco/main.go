// Command voc2coco converts per-image VOC XML annotations into one COCO
// JSON document, and serves the same conversion over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/ini.v1"

	"github.com/FocuswithJustin/voc2coco/core/convert"
	"github.com/FocuswithJustin/voc2coco/core/errors"
	"github.com/FocuswithJustin/voc2coco/core/labels"
	"github.com/FocuswithJustin/voc2coco/core/ledger"
	"github.com/FocuswithJustin/voc2coco/core/source"
	"github.com/FocuswithJustin/voc2coco/internal/api"
	"github.com/FocuswithJustin/voc2coco/internal/logging"
	"github.com/FocuswithJustin/voc2coco/internal/sink"
)

const version = "0.1.0"

// CLI defines the command-line interface for voc2coco.
type CLI struct {
	Globals

	Convert ConvertCmd `cmd:"" help:"Convert VOC annotations into one COCO JSON document"`
	Labels  LabelsCmd  `cmd:"" help:"Show a label registry or discover labels from annotations"`
	Serve   ServeCmd   `cmd:"" help:"Start the REST upload service"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	LogLevel  string          `name:"log-level" help:"Log level (debug, info, warn, error)" default:"info" enum:"debug,info,warn,error"`
	LogFormat string          `name:"log-format" help:"Log format (text, json)" default:"text" enum:"text,json"`
	Config    kong.ConfigFlag `help:"INI file supplying flag defaults" placeholder:"FILE"`
}

func (g *Globals) initLogging(w io.Writer) error {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(g.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLoggerTo(w, level, format)
	return nil
}

// console carries the command output streams.
type console struct {
	out io.Writer
	err io.Writer
}

// AnnotationInputs selects the annotation documents. A paths list wins over
// an archive, an archive over a directory; a directory with an id list
// resolves <dir>/<id>.<ext>, and a directory alone takes every *.<ext> file.
type AnnotationInputs struct {
	AnnDir       string `name:"ann-dir" help:"Directory holding the annotation files" type:"path"`
	AnnIDs       string `name:"ann-ids" help:"File of annotation ids, resolved against --ann-dir" type:"path"`
	AnnPathsList string `name:"ann-paths-list" help:"File of annotation paths" type:"path"`
	AnnArchive   string `name:"ann-archive" help:"Tar bundle (.tar, .tar.gz, .tar.xz) of annotation files" type:"path"`
	Ext          string `help:"Annotation file extension" default:"xml"`
}

func (a AnnotationInputs) sources() ([]source.Source, error) {
	return source.Select(source.Selection{
		PathList: a.AnnPathsList,
		Archive:  a.AnnArchive,
		Dir:      a.AnnDir,
		IDList:   a.AnnIDs,
		Ext:      a.Ext,
	})
}

// ConvertCmd runs one conversion and writes the document.
type ConvertCmd struct {
	Labels string           `required:"" help:"Label list file (names separated by whitespace or commas)" type:"existingfile"`
	Inputs AnnotationInputs `embed:""`

	Output       string `short:"o" help:"Output file; a .xz suffix compresses it" default:"output.json" type:"path"`
	ExtractNumID bool   `name:"extract-num-from-imgid" help:"Use the first digit run of the image file stem as image id"`
	KeepGoing    bool   `name:"keep-going" help:"Skip documents that fail instead of stopping"`
	Workers      int    `help:"Parser workers" default:"1"`
}

func (c *ConvertCmd) Run(con *console) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := labels.Load(c.Labels)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		logging.Warn("label list is empty, every object will be rejected", "labels", c.Labels)
	} else {
		logging.Debug("label registry loaded", "labels", c.Labels, "names", reg.Names())
	}

	sources, err := c.Inputs.sources()
	if err != nil {
		return err
	}

	policy := convert.StopOnFirstError
	if c.KeepGoing {
		policy = convert.CollectAndContinue
	}

	conv := &convert.Converter{
		Registry:         reg,
		ExtractNumericID: c.ExtractNumID,
		Policy:           policy,
		Workers:          c.Workers,
		Observer: func(p convert.Progress) {
			switch {
			case p.Err == nil:
				logging.DocumentConverted(ctx, p.Source, p.Index, p.Annotations)
			case policy == convert.CollectAndContinue:
				logging.DocumentSkipped(ctx, p.Source, errors.Code(p.Err), p.Err)
			}
		},
	}

	start := time.Now()
	logging.ConversionStarted(ctx, len(sources), reg.Len(), policy.String(), "workers", c.Workers)

	report, err := conv.Convert(ctx, sources)
	if err != nil {
		return err
	}

	digest, err := sink.WriteFile(c.Output, report.Document)
	if err != nil {
		return err
	}
	logging.OutputWritten(c.Output, digest.BLAKE3, digest.Size)

	doc := report.Document
	logging.ConversionFinished(ctx, len(doc.Images), len(doc.Annotations), len(report.Skipped), time.Since(start))

	if summary := report.Summary(); summary != "" {
		fmt.Fprint(con.err, summary)
	}
	return nil
}

// LabelsCmd prints a registry, or the labels used by a set of annotations.
type LabelsCmd struct {
	Labels   string           `help:"Label list file to show" type:"existingfile" xor:"mode"`
	Discover bool             `help:"List the object names used by the annotations, in first-seen order" xor:"mode"`
	Inputs   AnnotationInputs `embed:""`
}

func (c *LabelsCmd) Run(con *console) error {
	if !c.Discover {
		if c.Labels == "" {
			return errors.NewValidation("labels", "either --labels or --discover is required")
		}
		reg, err := labels.Load(c.Labels)
		if err != nil {
			return err
		}
		for _, e := range reg.Entries() {
			fmt.Fprintf(con.out, "%d\t%s\n", e.ID, e.Name)
		}
		return nil
	}

	sources, err := c.Inputs.sources()
	if err != nil {
		return err
	}
	names, err := convert.DiscoverLabels(context.Background(), sources)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(con.out, n)
	}
	return nil
}

// ServeCmd starts the REST upload service.
type ServeCmd struct {
	Port           int           `help:"HTTP server port" default:"8081"`
	RateLimit      int           `name:"rate-limit" help:"Requests per minute per client (0 disables)" default:"0"`
	RateBurst      int           `name:"rate-burst" help:"Rate limit burst size" default:"10"`
	AllowedOrigins []string      `name:"allowed-origins" help:"Allowed CORS and WebSocket origins (empty allows all)" sep:","`
	APIKey         string        `name:"api-key" help:"Require this X-API-Key on every non-public endpoint"`
	TLSCert        string        `name:"tls-cert" help:"TLS certificate file" type:"path"`
	TLSKey         string        `name:"tls-key" help:"TLS private key file" type:"path"`
	JobsDB         string        `name:"jobs-db" help:"SQLite file recording finished jobs" type:"path"`
	Workers        int           `help:"Parser workers per conversion" default:"1"`
	ResultTTL      time.Duration `name:"result-ttl" help:"How long finished job results stay downloadable" default:"1h"`
}

func (c *ServeCmd) config() api.Config {
	return api.Config{
		Port:              c.Port,
		RateLimitRequests: c.RateLimit,
		RateLimitBurst:    c.RateBurst,
		AllowedOrigins:    c.AllowedOrigins,
		Workers:           c.Workers,
		JobsDB:            c.JobsDB,
		ResultTTL:         c.ResultTTL,
		Auth: api.AuthConfig{
			Enabled: c.APIKey != "",
			APIKey:  c.APIKey,
		},
		TLS: api.TLSConfig{
			Enabled:  c.TLSCert != "" || c.TLSKey != "",
			CertFile: c.TLSCert,
			KeyFile:  c.TLSKey,
		},
	}
}

func (c *ServeCmd) Run() error {
	api.Version = version
	if c.APIKey == "" {
		logging.Warn("authentication disabled", "hint", api.GenerateAPIKeyExample())
	}
	return api.Start(c.config())
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(con *console) error {
	fmt.Fprintf(con.out, "voc2coco version %s (sqlite %s)\n", version, ledger.DriverType())
	return nil
}

// iniConfig reads flag defaults from an INI file. Keys in a section named
// after a command apply to that command; keys outside any section apply to
// every command. Keys may use dashes or underscores.
func iniConfig(r io.Reader) (kong.Resolver, error) {
	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, r)
	if err != nil {
		return nil, errors.NewParse("INI", "", err.Error())
	}

	return kong.ResolverFunc(func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		sections := []string{ini.DefaultSection}
		if parent.Command != nil {
			sections = []string{parent.Command.Name, ini.DefaultSection}
		}
		keys := []string{flag.Name, strings.ReplaceAll(flag.Name, "-", "_")}

		for _, name := range sections {
			sec, err := file.GetSection(name)
			if err != nil {
				continue
			}
			for _, key := range keys {
				if sec.HasKey(key) {
					return sec.Key(key).String(), nil
				}
			}
		}
		return nil, nil
	}), nil
}

func newParser(cli *CLI, con *console, exit func(int)) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("voc2coco"),
		kong.Description("Convert VOC-style XML annotations into a COCO-style JSON document"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.DefaultEnvars("VOC2COCO"),
		kong.Configuration(iniConfig),
		kong.Writers(con.out, con.err),
		kong.Exit(exit),
	)
}

// execute initializes logging and runs the selected command.
func execute(cli *CLI, kctx *kong.Context, con *console) error {
	if err := cli.Globals.initLogging(con.err); err != nil {
		return err
	}
	return kctx.Run(con)
}

func main() {
	var cli CLI
	con := &console{out: os.Stdout, err: os.Stderr}

	parser, err := newParser(&cli, con, os.Exit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	err = execute(&cli, ctx, con)
	ctx.FatalIfErrorf(err)
}
