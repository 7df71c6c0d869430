package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestSettings_Apply(t *testing.T) {
	enabled := true
	tests := []struct {
		name     string
		settings Settings
		project  domain.Project
		want     domain.Project
	}{
		{
			name:    "zero settings keep the file",
			project: domain.Project{Workers: 3, GC: true, Options: map[string]string{"mode": "debug"}},
			want:    domain.Project{Workers: 3, GC: true, Options: map[string]string{"mode": "debug"}},
		},
		{
			name:     "workers and gc",
			settings: Settings{Workers: 8, GC: &enabled},
			project:  domain.Project{Workers: 2},
			want:     domain.Project{Workers: 8, GC: true},
		},
		{
			name:     "options merge over the file",
			settings: Settings{Options: map[string]string{"mode": "release", "arch": "arm64"}},
			project:  domain.Project{Options: map[string]string{"mode": "debug", "os": "linux"}},
			want: domain.Project{Options: map[string]string{
				"mode": "release", "arch": "arm64", "os": "linux",
			}},
		},
		{
			name:     "remote url replaces gcs",
			settings: Settings{RemoteURL: "http://cache.internal:7878"},
			project: domain.Project{Cache: domain.CacheConfig{
				GCS: &domain.GCSCacheConfig{Bucket: "artifacts"},
			}},
			want: domain.Project{Cache: domain.CacheConfig{
				Remote: &domain.RemoteCacheConfig{URL: "http://cache.internal:7878"},
			}},
		},
		{
			name:     "remote url keeps remote flags",
			settings: Settings{RemoteURL: "http://other:1"},
			project: domain.Project{Cache: domain.CacheConfig{
				Remote: &domain.RemoteCacheConfig{URL: "http://cache:1", Writable: true},
			}},
			want: domain.Project{Cache: domain.CacheConfig{
				Remote: &domain.RemoteCacheConfig{URL: "http://other:1", Writable: true},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.project
			tt.settings.apply(&p)
			assert.Equal(t, tt.want, p)
		})
	}
}
