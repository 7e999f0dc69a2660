package typst

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
)

// Compiler renders typst documents to PDF
type Compiler interface {
	Compile(ctx context.Context, opts CompileOpts) (string, error)
	CompileToBytes(ctx context.Context, opts CompileOpts) ([]byte, error)
	CompileTemplate(ctx context.Context, templateName string, data []byte, opts ...CompileOptsBuilder) ([]byte, error)
	CleanupGeneratedFiles(files ...string)
}

// compiler shells out to the typst binary
type compiler struct {
	logger      *logger.Logger
	binaryPath  string
	fontDir     string
	templateDir string
	outputDir   string
}

// CompileOpts contains options for compiling a Typst document
type CompileOpts struct {
	// Input file path
	InputFile string
	// Output file name inside the output directory. A temp file is used when empty.
	OutputFile string
	// Font paths to include
	FontDirs []string
	// Additional command-line arguments
	ExtraArgs []string
}

type CompileOptsBuilder func(c *CompileOpts)

func WithOutputFile(outputFile string) CompileOptsBuilder {
	return func(c *CompileOpts) {
		c.OutputFile = outputFile
	}
}

func WithFontDirs(fontDirs ...string) CompileOptsBuilder {
	return func(c *CompileOpts) {
		c.FontDirs = fontDirs
	}
}

func WithExtraArgs(extraArgs ...string) CompileOptsBuilder {
	return func(c *CompileOpts) {
		c.ExtraArgs = append(c.ExtraArgs, extraArgs...)
	}
}

// NewCompiler creates a new Typst compiler
func NewCompiler(logger *logger.Logger, binaryPath, fontDir, templateDir, outputDir string) Compiler {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	return &compiler{
		logger:      logger,
		binaryPath:  binaryPath,
		fontDir:     fontDir,
		templateDir: templateDir,
		outputDir:   outputDir,
	}
}

// NewCompilerFromConfig builds a compiler from the typst config section
func NewCompilerFromConfig(cfg *config.Configuration, logger *logger.Logger) Compiler {
	binary := cfg.Typst.BinaryPath
	if binary == "" {
		binary = "typst"
	}
	return NewCompiler(logger, binary, cfg.Typst.FontDir, cfg.Typst.TemplatesDir, os.TempDir())
}

// Compile compiles a Typst document to PDF and returns the output path.
// The typst process is killed when ctx is done.
func (c *compiler) Compile(ctx context.Context, opts CompileOpts) (string, error) {
	var outputFile string
	if opts.OutputFile != "" {
		outputFile = filepath.Join(c.outputDir, opts.OutputFile)
	} else {
		tmpFile, err := os.CreateTemp(c.outputDir, "typst-*.pdf")
		if err != nil {
			return "", ierr.WithError(err).
				WithMessage("failed to create temporary output file").
				WithHint("Document rendering failed").
				Mark(ierr.ErrSystem)
		}
		tmpFile.Close()
		outputFile = tmpFile.Name()
	}

	var fontDirs []string
	if c.fontDir != "" {
		fontDirs = append(fontDirs, c.fontDir)
	}
	fontDirs = append(fontDirs, opts.FontDirs...)

	args := []string{"compile", "--root", "/"}
	for _, dir := range fontDirs {
		args = append(args, "--font-path", dir)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, opts.InputFile, outputFile)

	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debugw("compiling typst document", "input", opts.InputFile, "output", outputFile)
	if err := cmd.Run(); err != nil {
		c.CleanupGeneratedFiles(outputFile)
		return "", ierr.WithError(err).
			WithMessage("typst compilation failed").
			WithHint("Document rendering failed").
			WithReportableDetails(map[string]any{
				"stderr": stderr.String(),
			}).
			Mark(ierr.ErrDependency)
	}

	return outputFile, nil
}

// CompileToBytes compiles a Typst document and returns the PDF content
func (c *compiler) CompileToBytes(ctx context.Context, opts CompileOpts) ([]byte, error) {
	pdfPath, err := c.Compile(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer c.CleanupGeneratedFiles(pdfPath)

	content, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, ierr.WithError(err).
			WithMessage("failed to read compiled document").
			Mark(ierr.ErrSystem)
	}
	return content, nil
}

// CompileTemplate compiles a template with JSON data. The data is written to
// a temp file whose path is passed as the `path` input, so the template reads
//
//	#let data = json(sys.inputs.path)
func (c *compiler) CompileTemplate(ctx context.Context, templateName string, data []byte, opts ...CompileOptsBuilder) ([]byte, error) {
	templatePath := filepath.Join(c.templateDir, templateName)
	if _, err := os.Stat(templatePath); err != nil {
		return nil, ierr.WithError(err).
			WithMessagef("template not found: %s", templatePath).
			WithHint("Document template is missing").
			Mark(ierr.ErrSystem)
	}

	jsonFile, err := os.CreateTemp(c.outputDir, "typst-*.json")
	if err != nil {
		return nil, ierr.WithError(err).
			WithMessage("failed to create temporary json file").
			Mark(ierr.ErrSystem)
	}
	defer c.CleanupGeneratedFiles(jsonFile.Name())

	_, err = jsonFile.Write(data)
	jsonFile.Close()
	if err != nil {
		return nil, ierr.WithError(err).
			WithMessage("failed to write template data").
			Mark(ierr.ErrSystem)
	}

	compileOpts := CompileOpts{
		InputFile: templatePath,
		ExtraArgs: []string{"--input", "path=" + jsonFile.Name()},
	}
	for _, opt := range opts {
		opt(&compileOpts)
	}

	return c.CompileToBytes(ctx, compileOpts)
}

// CleanupGeneratedFiles removes temporary files created during compilation
func (c *compiler) CleanupGeneratedFiles(files ...string) {
	for _, file := range files {
		if file == "" {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			c.logger.Debugw("failed to remove generated file", "file", file, "error", err)
		}
	}
}
