package proc_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return p
}

func TestExecLauncher_Success(t *testing.T) {
	code, err := proc.ExecLauncher{}.Run(context.Background(), proc.Command{Path: writeScript(t, "exit 0")})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestExecLauncher_ExitCode(t *testing.T) {
	code, err := proc.ExecLauncher{}.Run(context.Background(), proc.Command{Path: writeScript(t, "echo oops >&2; exit 3")})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestExecLauncher_StartFailure(t *testing.T) {
	_, err := proc.ExecLauncher{}.Run(context.Background(), proc.Command{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &proc.Recorder{Handle: func(c proc.Command) (int, error) {
		if c.Path == "fail" {
			return 1, nil
		}
		return 0, nil
	}}
	code, err := r.Run(context.Background(), proc.Command{Path: "ok", Args: []string{"-x"}})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	code, _ = r.Run(context.Background(), proc.Command{Path: "fail"})
	assert.Equal(t, 1, code)

	cmds := r.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "ok -x", cmds[0].String())
}
