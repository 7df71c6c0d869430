// Package config loads kiln.yaml into a domain.Project.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// ReservedTargetName builds every target of the project.
const ReservedTargetName = "all"

var (
	validTargetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	envNameRegex         = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Loader implements ports.ConfigLoader using a YAML file.
type Loader struct {
	Logger   ports.Logger
	fs       FileSystem
	validate *validator.Validate
}

// Option configures a Loader.
type Option func(*Loader)

// WithFileSystem replaces the OS file system.
func WithFileSystem(fs FileSystem) Option {
	return func(l *Loader) {
		l.fs = fs
	}
}

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger, opts ...Option) *Loader {
	l := &Loader{Logger: logger, fs: osFS{}, validate: newValidator()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their kiln.yaml names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		return envNameRegex.MatchString(fl.Field().String())
	})
	return v
}

// Load finds kiln.yaml by walking up from cwd and returns the project it describes.
func (l *Loader) Load(cwd string) (*domain.Project, error) {
	configPath, err := l.findConfiguration(cwd)
	if err != nil {
		return nil, err
	}

	var kilnfile Kilnfile
	if err := l.readAndUnmarshalYAML(configPath, &kilnfile); err != nil {
		return nil, zerr.With(err, "file", configPath)
	}
	if err := l.validateKilnfile(&kilnfile); err != nil {
		return nil, zerr.With(err, "file", configPath)
	}
	return l.buildProject(filepath.Dir(configPath), &kilnfile)
}

func (l *Loader) findConfiguration(cwd string) (string, error) {
	currentDir := filepath.Clean(cwd)
	for {
		candidate := filepath.Join(currentDir, domain.ConfigFileName)
		if info, err := l.fs.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root
			break
		}
		currentDir = parentDir
	}
	return "", zerr.With(domain.ErrConfigNotFound, "cwd", cwd)
}

// readAndUnmarshalYAML reads a YAML file and strictly decodes it into target. An empty file
// decodes to the zero value.
func (l *Loader) readAndUnmarshalYAML(configPath string, target *Kilnfile) error {
	data, err := l.fs.ReadFile(configPath)
	if err != nil {
		return zerr.Wrap(err, domain.ErrConfigReadFailed.Error())
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return zerr.Wrap(err, domain.ErrConfigParseFailed.Error())
	}
	return nil
}

func (l *Loader) validateKilnfile(kf *Kilnfile) error {
	err := l.validate.Struct(kf)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return zerr.Wrap(err, domain.ErrConfigInvalid.Error())
	}
	out := zerr.Wrap(domain.ErrConfigInvalid, "validation failed")
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = zerr.With(out, trimNamespace(fe.Namespace()), rule)
	}
	return out
}

// trimNamespace drops the root struct name from a validator namespace.
func trimNamespace(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func (l *Loader) buildProject(root string, kf *Kilnfile) (*domain.Project, error) {
	if kf.Version == "" {
		l.warn(fmt.Sprintf("%s has no version, assuming \"1\"", domain.ConfigFileName))
	}

	p := &domain.Project{
		Root:    root,
		Workers: kf.Workers,
		GC:      kf.GC,
		Options: kf.Options,
		Cache:   buildCache(kf.Cache),
		Targets: make(map[string]*domain.Target, len(kf.Targets)),
	}
	if p.Options == nil {
		p.Options = make(map[string]string)
	}

	for _, name := range slices.Sorted(maps.Keys(kf.Targets)) {
		if err := validateTargetName(name); err != nil {
			return nil, err
		}
		dto := kf.Targets[name]
		for _, dep := range dto.DependsOn {
			if _, ok := kf.Targets[dep]; !ok {
				err := zerr.With(domain.ErrMissingDependency, "target", name)
				return nil, zerr.With(err, "missing_dependency", dep)
			}
		}
		p.Targets[name] = &domain.Target{
			Name:       name,
			Inputs:     canonicalizeStrings(dto.Inputs),
			Cmd:        dto.Cmd,
			Env:        canonicalizeStrings(dto.Env),
			DependsOn:  canonicalizeStrings(dto.DependsOn),
			Always:     dto.Always,
			Volatile:   dto.Volatile,
			WorkingDir: resolveTargetWorkingDir(root, dto.WorkingDir),
		}
	}
	return p, nil
}

func buildCache(dto CacheDTO) domain.CacheConfig {
	cfg := domain.CacheConfig{Local: dto.Local}
	if dto.Remote != nil {
		cfg.Remote = &domain.RemoteCacheConfig{
			URL:           dto.Remote.URL,
			Writable:      dto.Remote.Writable,
			Authoritative: dto.Remote.Authoritative,
			Timeout:       dto.Remote.Timeout,
		}
	}
	if dto.GCS != nil {
		cfg.GCS = &domain.GCSCacheConfig{
			Bucket:        dto.GCS.Bucket,
			Prefix:        dto.GCS.Prefix,
			Credentials:   dto.GCS.Credentials,
			Writable:      dto.GCS.Writable,
			Authoritative: dto.GCS.Authoritative,
		}
	}
	return cfg
}

func (l *Loader) warn(msg string) {
	if l.Logger != nil {
		l.Logger.Warn(msg)
	}
}

// validateTargetName checks if the target name is reserved or contains invalid characters.
func validateTargetName(name string) error {
	if name == ReservedTargetName {
		return zerr.With(domain.ErrInvalidTargetName, "reserved_name", name)
	}
	if !validTargetNameRegex.MatchString(name) {
		return zerr.With(domain.ErrInvalidTargetName, "target_name", name)
	}
	return nil
}

// canonicalizeStrings sorts and deduplicates strs.
func canonicalizeStrings(strs []string) []string {
	if len(strs) == 0 {
		return nil
	}
	sorted := slices.Clone(strs)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// resolveTargetWorkingDir resolves the working directory of a target against the project root.
func resolveTargetWorkingDir(root, configured string) string {
	if configured == "" {
		return root
	}
	if filepath.IsAbs(configured) {
		return filepath.Clean(configured)
	}
	return filepath.Clean(filepath.Join(root, configured))
}
