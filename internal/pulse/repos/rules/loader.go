package rules

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/repos/rules/parsers"
)

// BuiltinSource names rules loaded from the embedded defaults.
const BuiltinSource = "builtin"

//go:embed defaults.yaml
var defaultRules []byte

// DefaultRules returns a copy of the embedded rules file.
func DefaultRules() []byte {
	out := make([]byte, len(defaultRules))
	copy(out, defaultRules)
	return out
}

// List source formats.
const (
	FormatPlain = "plain"
	FormatHosts = "hosts"
	FormatABP   = "abp"
)

type rulesFile struct {
	Version   uint64        `koanf:"version"`
	Blocklist []blockDoc    `koanf:"blocklist" validate:"dive"`
	Trackers  []string      `koanf:"trackers"`
	Sources   []sourceDoc   `koanf:"sources" validate:"dive"`
	Patterns  []patternDoc  `koanf:"patterns" validate:"dive"`
	Telemetry telemetryDoc  `koanf:"telemetry"`
	Rewriters []rewriterDoc `koanf:"rewriters" validate:"dive"`
}

type blockDoc struct {
	Domain  string `koanf:"domain" validate:"required"`
	Tracker bool   `koanf:"tracker"`
}

type sourceDoc struct {
	Path    string `koanf:"path" validate:"required"`
	Format  string `koanf:"format" validate:"omitempty,oneof=plain hosts abp"`
	Tracker bool   `koanf:"tracker"`
}

type patternDoc struct {
	ID          string `koanf:"id"`
	Pattern     string `koanf:"pattern" validate:"required"`
	Description string `koanf:"description"`
	Enabled     *bool  `koanf:"enabled"`
}

type telemetryDoc struct {
	NoopTarget string        `koanf:"noop_target"`
	Endpoints  []endpointDoc `koanf:"endpoints" validate:"dive"`
}

type endpointDoc struct {
	Host       string `koanf:"host" validate:"required"`
	PathPrefix string `koanf:"path_prefix"`
	Contains   string `koanf:"contains"`
	Tracker    bool   `koanf:"tracker"`
}

type rewriterDoc struct {
	ID        string      `koanf:"id" validate:"required"`
	StripKeys []string    `koanf:"strip_keys" validate:"required,min=1"`
	Targets   []targetDoc `koanf:"targets" validate:"dive"`
}

type targetDoc struct {
	ResourceType string `koanf:"resource_type"`
	Pattern      string `koanf:"pattern" validate:"required"`
}

// DefaultNoopTarget answers telemetry beacons when the rules file names no target.
const DefaultNoopTarget = "data:text/plain,"

// Loader reads a YAML rules file (or the embedded defaults) into a RuleSet.
// Bad entries are skipped and collected as warnings; only an unreadable or
// structurally invalid document fails the load.
type Loader struct {
	name     string
	provider koanf.Provider
	baseDir  string
	logger   logpkg.Logger
	warnings error
}

// NewFileLoader loads rules from path. Relative source paths resolve against
// the directory holding path.
func NewFileLoader(path string, logger logpkg.Logger) *Loader {
	return &Loader{
		name:     path,
		provider: file.Provider(path),
		baseDir:  filepath.Dir(path),
		logger:   logpkg.OrGlobal(logger),
	}
}

// NewBytesLoader loads rules from an in-memory YAML document.
func NewBytesLoader(name string, data []byte, logger logpkg.Logger) *Loader {
	return &Loader{
		name:     name,
		provider: rawbytes.Provider(data),
		baseDir:  ".",
		logger:   logpkg.OrGlobal(logger),
	}
}

// NewDefaultLoader loads the embedded default rules.
func NewDefaultLoader(logger logpkg.Logger) *Loader {
	return NewBytesLoader(BuiltinSource, defaultRules, logger)
}

var _ Source = (*Loader)(nil)

// Name identifies the loaded document in logs.
func (l *Loader) Name() string { return l.name }

// Warnings returns every entry-level problem from the last Load.
func (l *Loader) Warnings() []error { return multierr.Errors(l.warnings) }

// Load parses and compiles the rules document. It returns
// domain.ErrConfigurationMissing when the document is empty or compiles to an
// empty rule set; the returned RuleSet is still usable and allows everything.
func (l *Loader) Load() (domain.RuleSet, error) {
	l.warnings = nil

	k := koanf.New(".")
	if err := k.Load(l.provider, yaml.Parser()); err != nil {
		return domain.RuleSet{}, fmt.Errorf("error loading rules %s: %w", l.name, err)
	}
	if len(k.Keys()) == 0 {
		return domain.RuleSet{}, fmt.Errorf("rules %s: %w", l.name, domain.ErrConfigurationMissing)
	}

	var doc rulesFile
	if err := k.Unmarshal("", &doc); err != nil {
		return domain.RuleSet{}, fmt.Errorf("error unmarshalling rules %s: %w", l.name, err)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&doc); err != nil {
		return domain.RuleSet{}, fmt.Errorf("rules %s validation failed: %w", l.name, err)
	}

	rs := l.compile(doc)
	for _, w := range l.Warnings() {
		l.logger.Warn(map[string]any{"rules": l.name, "error": w}, "rules_entry_skipped")
	}
	l.logger.Info(map[string]any{
		"rules":     l.name,
		"version":   rs.Version,
		"domains":   len(rs.Blocks),
		"patterns":  rs.ActivePatterns(),
		"telemetry": len(rs.Telemetry),
		"rewriters": len(rs.Rewriters),
		"skipped":   len(l.Warnings()),
	}, "rules_loaded")

	if rs.IsEmpty() {
		return rs, fmt.Errorf("rules %s: %w", l.name, domain.ErrConfigurationMissing)
	}
	return rs, nil
}

func (l *Loader) warn(err error) {
	l.warnings = multierr.Append(l.warnings, err)
}

func (l *Loader) compile(doc rulesFile) domain.RuleSet {
	rs := domain.RuleSet{Version: doc.Version}

	for _, b := range doc.Blocklist {
		e, err := domain.NewBlockEntry(b.Domain, b.Tracker, l.name)
		if err != nil {
			l.warn(err)
			continue
		}
		rs.Blocks = append(rs.Blocks, e)
	}
	// Tracker entries are blocked too; the snapshot merges their flag into any
	// blocklist entry for the same domain.
	for _, d := range doc.Trackers {
		e, err := domain.NewBlockEntry(d, true, l.name)
		if err != nil {
			l.warn(err)
			continue
		}
		rs.Blocks = append(rs.Blocks, e)
	}
	for _, src := range doc.Sources {
		entries, err := l.loadSource(src)
		if err != nil {
			l.warn(err)
			continue
		}
		rs.Blocks = append(rs.Blocks, entries...)
	}

	for _, p := range doc.Patterns {
		enabled := p.Enabled == nil || *p.Enabled
		rule, err := domain.NewPatternRule(p.ID, p.Pattern, p.Description, enabled)
		if err != nil {
			l.warn(err)
			continue
		}
		rs.Patterns = append(rs.Patterns, rule)
	}

	rs.NoopTarget = strings.TrimSpace(doc.Telemetry.NoopTarget)
	if rs.NoopTarget == "" {
		rs.NoopTarget = DefaultNoopTarget
	}
	for _, ep := range doc.Telemetry.Endpoints {
		rule, err := domain.NewTelemetryRule(ep.Host, ep.PathPrefix, ep.Contains, ep.Tracker)
		if err != nil {
			l.warn(err)
			continue
		}
		rs.Telemetry = append(rs.Telemetry, rule)
	}

	for _, rw := range doc.Rewriters {
		spec := domain.RewriterSpec{ID: strings.TrimSpace(rw.ID), StripKeys: rw.StripKeys}
		if err := spec.Validate(); err != nil {
			l.warn(err)
			continue
		}
		rs.Rewriters = append(rs.Rewriters, spec)
		for _, t := range rw.Targets {
			target, err := compileTarget(spec.ID, t)
			if err != nil {
				l.warn(err)
				continue
			}
			rs.RewriteTargets = append(rs.RewriteTargets, target)
		}
	}
	return rs
}

func compileTarget(rewriterID string, t targetDoc) (domain.RewriteTarget, error) {
	target := domain.RewriteTarget{RewriterID: rewriterID}
	if rt := strings.TrimSpace(t.ResourceType); rt != "" {
		parsed, err := domain.ParseResourceType(rt)
		if err != nil {
			return domain.RewriteTarget{}, fmt.Errorf("rewriter %q target: %w", rewriterID, err)
		}
		target.ResourceTypes = []domain.ResourceType{parsed}
	}
	re, err := domain.NewPatternRule(rewriterID, t.Pattern, "", true)
	if err != nil {
		return domain.RewriteTarget{}, fmt.Errorf("rewriter %q target: %w", rewriterID, err)
	}
	target.Pattern = re.Pattern
	return target, nil
}

// loadSource reads one list file through the parser for its format.
func (l *Loader) loadSource(src sourceDoc) ([]domain.BlockEntry, error) {
	path := src.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.baseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules source %s: %w", path, err)
	}
	defer f.Close()

	var entries []domain.BlockEntry
	switch src.Format {
	case FormatHosts:
		entries, err = parsers.ParseHostsFile(f, path, src.Tracker, l.logger)
	case FormatABP:
		entries, err = parsers.ParseABPList(f, path, src.Tracker, l.logger)
	default:
		entries, err = parsers.ParsePlainList(f, path, src.Tracker, l.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("rules source %s: %w", path, err)
	}
	return entries, nil
}

// Watch calls onChange whenever the underlying rules file changes. Only
// loaders created by NewFileLoader can be watched.
func (l *Loader) Watch(onChange func(error)) error {
	fp, ok := l.provider.(*file.File)
	if !ok {
		return fmt.Errorf("rules %s: not a file source", l.name)
	}
	return fp.Watch(func(_ interface{}, err error) {
		onChange(err)
	})
}
