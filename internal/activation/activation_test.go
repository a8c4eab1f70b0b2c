package activation_test

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activated-packages")
	require.NoError(t, os.WriteFile(path, []byte("a-1.hpkg\n\nb-1.hpkg\n"), 0644))

	names, err := activation.ReadFile(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1.hpkg", "b-1.hpkg"}, names)
}

func TestReadFile_KeepsSurroundingSpaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activated-packages")
	names := []string{" lead-1.hpkg", "trail-1.hpkg ", "plain-1.hpkg"}
	require.NoError(t, activation.Write(path, names))

	got, err := activation.ReadFile(path, 0)
	require.NoError(t, err)
	assert.Equal(t, names, got)

	assert.Equal(t, []string{"a-1.hpkg", "b-1.hpkg"}, activation.Decode([]byte("a-1.hpkg\r\nb-1.hpkg\r\n")))
}

func TestReadFile_Missing(t *testing.T) {
	_, err := activation.ReadFile(filepath.Join(t.TempDir(), "activated-packages"), 0)
	assert.True(t, os.IsNotExist(err))
}

func TestReadFile_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activated-packages")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 65)), 0644))

	_, err := activation.ReadFile(path, 64)
	assert.Error(t, err)
}

func TestWriteTempThenWrite(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "activated-packages.tmp")
	require.NoError(t, activation.WriteTemp(tmp, []string{"a-1.hpkg"}))
	content, err := os.ReadFile(tmp)
	require.NoError(t, err)
	assert.Equal(t, "a-1.hpkg\n", string(content))

	final := filepath.Join(dir, "activated-packages")
	require.NoError(t, activation.Write(final, nil))
	content, err = os.ReadFile(final)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestRequest_Layout(t *testing.T) {
	req := &activation.Request{}
	req.Add(activation.ItemActivate, "a-1.hpkg", model.NodeRef{Device: 1, Node: 2}, model.NodeRef{Device: 1, Node: 9})
	req.Add(activation.ItemDeactivate, "b.hpkg", model.NodeRef{Device: 1, Node: 3}, model.NodeRef{Device: 1, Node: 9})

	data, err := req.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, 4+2*40+len("a-1.hpkg")+len("b.hpkg"))

	le := binary.LittleEndian
	assert.Equal(t, uint32(2), le.Uint32(data))
	assert.Equal(t, uint32(activation.ItemActivate), le.Uint32(data[4:]))
	assert.Equal(t, uint32(8), le.Uint32(data[8:]))
	assert.Equal(t, uint64(1), le.Uint64(data[12:]))
	assert.Equal(t, uint64(2), le.Uint64(data[20:]))
	assert.Equal(t, uint64(9), le.Uint64(data[36:]))
	assert.Equal(t, uint32(activation.ItemDeactivate), le.Uint32(data[44:]))
	assert.Equal(t, "a-1.hpkgb.hpkg", string(data[84:]))

	var decoded activation.Request
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, req.Items, decoded.Items)
}

func TestRequest_UnmarshalTruncated(t *testing.T) {
	req := &activation.Request{}
	req.Add(activation.ItemActivate, "a-1.hpkg", model.NodeRef{Node: 1}, model.NodeRef{Node: 2})
	data, err := req.MarshalBinary()
	require.NoError(t, err)

	var decoded activation.Request
	assert.Error(t, decoded.UnmarshalBinary(data[:len(data)-1]))
	assert.Error(t, decoded.UnmarshalBinary(data[:10]))
	assert.Error(t, decoded.UnmarshalBinary(append(data, 'x')))
}

func TestRequest_Reverse(t *testing.T) {
	req := &activation.Request{}
	req.Add(activation.ItemDeactivate, "a-0.hpkg", model.NodeRef{Node: 1}, model.NodeRef{})
	req.Add(activation.ItemActivate, "a-1.hpkg", model.NodeRef{Node: 2}, model.NodeRef{})

	rev := req.Reverse()
	require.Len(t, rev.Items, 2)
	assert.Equal(t, "a-1.hpkg", rev.Items[0].Name)
	assert.Equal(t, activation.ItemDeactivate, rev.Items[0].Type)
	assert.Equal(t, activation.ItemActivate, rev.Items[1].Type)
}

func TestMemoryController(t *testing.T) {
	ctx := context.Background()
	c := activation.NewMemoryController()

	_, err := c.ActivePackages(ctx, "/")
	assert.ErrorIs(t, err, activation.ErrNoKernelView)

	c.SetActive("/", model.NodeRef{Node: 1})
	req := &activation.Request{}
	req.Add(activation.ItemDeactivate, "a-0.hpkg", model.NodeRef{Node: 1}, model.NodeRef{})
	req.Add(activation.ItemActivate, "a-1.hpkg", model.NodeRef{Node: 2}, model.NodeRef{})
	require.NoError(t, c.ChangeActivation(ctx, "/", req))

	refs, err := c.ActivePackages(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []model.NodeRef{{Node: 2}}, refs)
	assert.Len(t, c.Requests(), 1)

	boom := errors.New("boom")
	c.FailNext(boom)
	assert.ErrorIs(t, c.ChangeActivation(ctx, "/", req.Reverse()), boom)
	assert.Len(t, c.Requests(), 1)
}

func TestNopController(t *testing.T) {
	var c activation.Controller = activation.NopController{}
	assert.NoError(t, c.ChangeActivation(context.Background(), "/", &activation.Request{}))
	_, err := c.ActivePackages(context.Background(), "/")
	assert.ErrorIs(t, err, activation.ErrNoKernelView)
}
