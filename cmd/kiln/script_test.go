package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
	"go.trai.ch/kiln/internal/adapters/ipc"
)

// TestMain installs the test binary as the kiln command of the scripts. Workers spawned by a
// scripted build re-execute the test binary itself, so the worker subcommand is served here too.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == ipc.WorkerCommand {
		os.Exit(run(context.Background(), os.Args[1:], os.Stderr, wiredComponents))
	}
	testscript.Main(m, map[string]func(){
		"kiln": func() {
			os.Exit(run(context.Background(), os.Args[1:], os.Stderr, wiredComponents))
		},
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir:   filepath.Join("testdata", "script"),
		Setup: setupScript,
	})
}

func setupScript(env *testscript.Env) error {
	env.Setenv("NO_COLOR", "1")
	env.Setenv("CI", "true")

	homeDir := filepath.Join(env.WorkDir, ".home")
	if err := os.MkdirAll(homeDir, 0o750); err != nil {
		return err
	}
	env.Setenv("HOME", homeDir)

	return nil
}
