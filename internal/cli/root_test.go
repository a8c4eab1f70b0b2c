package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(root *cobra.Command, args ...string) (stdout string, err error) {
	// Capture os.Stdout since CLI uses fmt.Printf directly
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	root.SetArgs(args)
	err = root.Execute()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String(), err
}

func createTestRootCmd() *cobra.Command {
	configForce = false
	gcPlanID = ""
	gcLocation = "system"
	doctorStrict = false
	doctorLocation = "system"

	cmd := &cobra.Command{
		Use:           "pkgfsd",
		Short:         "pkgfsd - transactional package activation daemon",
		Long:          rootCmd.Long,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addPersistentFlags(cmd)

	cmd.AddCommand(configCmd)
	cmd.AddCommand(doctorCmd)
	cmd.AddCommand(gcCmd)
	cmd.AddCommand(infoCmd)
	return cmd
}

// writeTestConfig writes a config with one root holding a system and a home
// volume under dir and returns its path.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	for _, v := range []string{"system", "home"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, v, "packages"), 0755))
	}
	path := filepath.Join(dir, "config.yaml")
	data := fmt.Sprintf(`roots:
  - path: %[1]s
    volumes:
      - mount_point: %[1]s/system
        type: system
      - mount_point: %[1]s/home
        type: home
retention_policy:
  keep_min_states: 1
  keep_min_age: 0s
`, dir)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestRootCommand_Help(t *testing.T) {
	cmd := createTestRootCmd()
	stdout, err := executeCommand(cmd, "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "transaction directory")
}

func TestRootCommand_JSONFlag(t *testing.T) {
	cmd := createTestRootCmd()
	_, err := executeCommand(cmd, "--json", "--help")
	require.NoError(t, err)
	assert.True(t, jsonOutput)
}

func TestConfigCommand_InitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgfsd", "config.yaml")

	stdout, err := executeCommand(createTestRootCmd(), "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, path)
	assert.FileExists(t, path)

	stdout, err = executeCommand(createTestRootCmd(), "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", stdout)

	stdout, err = executeCommand(createTestRootCmd(), "--config", path, "--json", "config", "show")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(stdout), &cfg))
	require.Len(t, cfg.Roots, 1)
	assert.Equal(t, "/boot", cfg.Roots[0].Path)
	assert.Len(t, cfg.Roots[0].Volumes, 2)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
}

func TestDoctorCommand_Healthy(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	stdout, err := executeCommand(createTestRootCmd(), "--config", path, "--json", "doctor", "-l", "home")
	require.NoError(t, err)
	var result struct {
		Healthy bool `json:"healthy"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Healthy)
}

func TestGCCommand_PlanAndRun(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	adminDir := filepath.Join(dir, "system", "packages", model.AdminDirName)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		name := model.StateDirName(base.Add(time.Duration(i)*time.Hour), 0)
		require.NoError(t, os.MkdirAll(filepath.Join(adminDir, name), 0755))
	}

	stdout, err := executeCommand(createTestRootCmd(), "--config", path, "--json", "gc", "plan")
	require.NoError(t, err)
	var plan model.GCPlan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Len(t, plan.ToDelete, 2)
	assert.Len(t, plan.Protected, 1)

	stdout, err = executeCommand(createTestRootCmd(), "--config", path, "gc", "run", "--plan-id", plan.PlanID)
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 states deleted")
	for _, name := range plan.ToDelete {
		assert.NoDirExists(t, filepath.Join(adminDir, name))
	}
	assert.DirExists(t, filepath.Join(adminDir, plan.Protected[0]))
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation("home")
	require.NoError(t, err)
	assert.Equal(t, model.MountTypeHome, loc)
	_, err = parseLocation("attic")
	assert.Error(t, err)
}

func TestFindVolume(t *testing.T) {
	cfg := &config.Config{Roots: []config.RootConfig{
		{Path: "/mnt/other", Volumes: []config.VolumeConfig{{MountPoint: "/mnt/other/data"}}},
		{Path: "/boot", Volumes: []config.VolumeConfig{
			{MountPoint: "/boot/system", Type: "system"},
			{MountPoint: "/boot/home", Type: "home"},
		}},
	}}

	v, err := findVolume(cfg, "", model.MountTypeHome)
	require.NoError(t, err)
	assert.Equal(t, "/boot/home", v.MountPoint)

	v, err = findVolume(cfg, "/mnt/other/", model.MountTypeCustom)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/other/data/packages", v.PackagesPath())

	_, err = findVolume(cfg, "/mnt/other", model.MountTypeSystem)
	assert.Error(t, err)
	_, err = findVolume(cfg, "/nowhere", model.MountTypeSystem)
	assert.Error(t, err)
}

func TestSuggestLocations(t *testing.T) {
	cfg := &config.Config{Roots: []config.RootConfig{
		{Path: "/boot", Volumes: []config.VolumeConfig{{MountPoint: "/boot/system", Type: "system"}}},
	}}
	assert.Contains(t, suggestLocations(cfg, ""), "system (/boot)")
	assert.Contains(t, suggestLocations(&config.Config{}, ""), "config init")
}

func TestCompletion(t *testing.T) {
	cmd := createTestRootCmd()
	cmd.AddCommand(completionCmd)

	for _, shell := range completionShells {
		var buf bytes.Buffer
		require.NoError(t, writeCompletion(cmd, &buf, shell))
		assert.Contains(t, buf.String(), "pkgfsd", shell)
	}

	_, err := executeCommand(cmd, "completion", "powershell")
	assert.Error(t, err)
	assert.Error(t, writeCompletion(cmd, io.Discard, "tcsh"))
}
