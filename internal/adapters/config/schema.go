package config

import "time"

// Kilnfile represents the structure of the kiln.yaml configuration file.
type Kilnfile struct {
	Version string               `yaml:"version" validate:"omitempty,oneof=1"`
	Workers int                  `yaml:"workers" validate:"gte=0,lte=1024"`
	GC      bool                 `yaml:"gc"`
	Options map[string]string    `yaml:"options" validate:"dive,keys,required,endkeys"`
	Cache   CacheDTO             `yaml:"cache"`
	Targets map[string]TargetDTO `yaml:"targets" validate:"dive"`
}

// CacheDTO represents the cache section.
type CacheDTO struct {
	Local  string     `yaml:"local" validate:"omitempty,oneof=badger dir"`
	Remote *RemoteDTO `yaml:"remote" validate:"omitempty,excluded_with=GCS"`
	GCS    *GCSDTO    `yaml:"gcs"`
}

// RemoteDTO represents an HTTP remote cache.
type RemoteDTO struct {
	URL           string        `yaml:"url" validate:"required,url"`
	Writable      bool          `yaml:"writable"`
	Authoritative bool          `yaml:"authoritative"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

// GCSDTO represents a Google Cloud Storage remote cache.
type GCSDTO struct {
	Bucket        string `yaml:"bucket" validate:"required"`
	Prefix        string `yaml:"prefix"`
	Credentials   string `yaml:"credentials"`
	Writable      bool   `yaml:"writable"`
	Authoritative bool   `yaml:"authoritative"`
}

// TargetDTO represents a target definition in the configuration.
type TargetDTO struct {
	Inputs     []string `yaml:"inputs" validate:"dive,required"`
	Cmd        []string `yaml:"cmd" validate:"dive,required"`
	Env        []string `yaml:"env" validate:"dive,envname"`
	DependsOn  []string `yaml:"dependsOn" validate:"dive,required"`
	Always     bool     `yaml:"always"`
	Volatile   bool     `yaml:"volatile"`
	WorkingDir string   `yaml:"workingDir"`
}
