package activation

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"golang.org/x/sys/unix"
)

// ioctl operations understood by the package filesystem.
const (
	ioctlChangeActivation  = 0x504b4601
	ioctlGetActivePackages = 0x504b4602
)

// KernelController issues activation changes as ioctls on the volume's
// root directory.
type KernelController struct{}

func (KernelController) ChangeActivation(_ context.Context, rootPath string, req *Request) error {
	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	fd, err := openRoot(rootPath)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := ioctl(fd, ioctlChangeActivation, data); err != nil {
		return fmt.Errorf("change activation on %s: %w", rootPath, err)
	}
	return nil
}

// ActivePackages asks for the active set. The reply is a u32 count
// followed by {u64 device, u64 node} records.
func (KernelController) ActivePackages(_ context.Context, rootPath string) ([]model.NodeRef, error) {
	fd, err := openRoot(rootPath)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	buf := make([]byte, 64*1024)
	for {
		err := ioctl(fd, ioctlGetActivePackages, buf)
		if err == nil {
			break
		}
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
			return nil, ErrNoKernelView
		}
		if errors.Is(err, unix.ENOBUFS) && len(buf) < 16<<20 {
			buf = make([]byte, len(buf)*4)
			continue
		}
		return nil, fmt.Errorf("get active packages on %s: %w", rootPath, err)
	}

	le := binary.LittleEndian
	count := int(le.Uint32(buf))
	if 4+16*count > len(buf) {
		return nil, fmt.Errorf("active package reply truncated")
	}
	refs := make([]model.NodeRef, count)
	for i := range refs {
		rec := buf[4+16*i:]
		refs[i] = model.NodeRef{Device: le.Uint64(rec), Node: le.Uint64(rec[8:])}
	}
	return refs, nil
}

func openRoot(rootPath string) (int, error) {
	fd, err := unix.Open(rootPath, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open root directory %s: %w", rootPath, err)
	}
	return fd, nil
}

func ioctl(fd int, op uintptr, data []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), op, uintptr(unsafe.Pointer(&data[0])))
	runtime.KeepAlive(data)
	if errno != 0 {
		return errno
	}
	return nil
}
