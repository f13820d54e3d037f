//go:build fuse

package ffsp

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// node is the FUSE binding's Inode: a thin pointer back into the mounted
// FileSystem plus the ffsp inode number it represents. All the actual
// work happens through FileSystem's inode-number-based operations in
// ops.go; this file only translates between go-fuse's callback shapes
// and ffsp's error values.
type node struct {
	fs.Inode
	fsys *FileSystem
	ino  uint32
}

var _ fs.NodeLookuper = (*node)(nil)
var _ fs.NodeGetattrer = (*node)(nil)
var _ fs.NodeReaddirer = (*node)(nil)
var _ fs.NodeOpener = (*node)(nil)
var _ fs.NodeReader = (*node)(nil)
var _ fs.NodeWriter = (*node)(nil)
var _ fs.NodeMkdirer = (*node)(nil)
var _ fs.NodeCreater = (*node)(nil)
var _ fs.NodeUnlinker = (*node)(nil)
var _ fs.NodeRmdirer = (*node)(nil)
var _ fs.NodeRenamer = (*node)(nil)
var _ fs.NodeSymlinker = (*node)(nil)
var _ fs.NodeReadlinker = (*node)(nil)
var _ fs.NodeLinker = (*node)(nil)
var _ fs.NodeSetattrer = (*node)(nil)
var _ fs.NodeReleaser = (*node)(nil)
var _ fs.NodeFsyncer = (*node)(nil)

// errnoOf maps ffsp's sentinel errors to the syscall.Errno FUSE expects.
func errnoOf(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrExists):
		return syscall.EEXIST
	case errors.Is(err, ErrPermission):
		return syscall.EPERM
	case errors.Is(err, ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ErrTooLarge):
		return syscall.EFBIG
	case errors.Is(err, ErrOverflow):
		return syscall.EOVERFLOW
	case errors.Is(err, ErrNotSupported):
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

func fillAttr(out *fuse.Attr, a Attr) {
	out.Ino = uint64(a.Ino)
	out.Size = a.Size
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.Uid, Gid: a.Gid}
	out.Rdev = uint32(a.Rdev)
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
	out.Blksize = 4096
	out.Blocks = (a.Size + 511) / 512
}

func (n *node) childNode(ino uint32, mode uint32) *fs.Inode {
	return n.NewInode(context.Background(), &node{fsys: n.fsys, ino: ino}, fs.StableAttr{
		Mode: mode &^ 07777,
		Ino:  uint64(ino),
	})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	a, err := n.fsys.Lookup(n.ino, name)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, a)
	return n.childNode(a.Ino, a.Mode), fs.OK
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.fsys.GetAttrIno(n.ino)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, a)
	return fs.OK
}

type dirStream struct {
	entries []fuseDirEnt
	pos     int
}

type fuseDirEnt struct {
	name string
	ino  uint32
	mode uint32
}

func (d *dirStream) HasNext() bool { return d.pos < len(d.entries) }
func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := d.entries[d.pos]
	d.pos++
	return fuse.DirEntry{Name: e.name, Ino: uint64(e.ino), Mode: e.mode &^ 07777}, fs.OK
}
func (d *dirStream) Close() {}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	infos, err := n.fsys.ReaddirInfo(n.ino)
	if err != nil {
		return nil, errnoOf(err)
	}
	ds := &dirStream{}
	for _, info := range infos {
		ds.entries = append(ds.entries, fuseDirEnt{name: info.Name, ino: info.Ino, mode: info.Mode})
	}
	return ds, fs.OK
}

type fileHandleFUSE struct {
	fsys   *FileSystem
	handle uint64
	ino    uint32
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, err := n.fsys.Open(n.ino)
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	return &fileHandleFUSE{fsys: n.fsys, handle: h, ino: n.ino}, 0, fs.OK
}

func (n *node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	if fh, ok := f.(*fileHandleFUSE); ok {
		n.fsys.Release(fh.handle)
	}
	return fs.OK
}

func (n *node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, err := n.fsys.Read(n.ino, dest, uint64(off))
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:nRead]), fs.OK
}

func (n *node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nWritten, err := n.fsys.Write(n.ino, data, uint64(off))
	if err != nil {
		return 0, errnoOf(err)
	}
	return uint32(nWritten), fs.OK
}

func (n *node) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	return errnoOf(n.fsys.Fsync(n.ino))
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	a, err := n.fsys.Mkdir(n.ino, name, mode)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, a)
	return n.childNode(a.Ino, a.Mode), fs.OK
}

func (n *node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	a, err := n.fsys.Mknod(n.ino, name, (mode&07777)|uint32(S_IFREG), 0)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	h, err := n.fsys.Open(a.Ino)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	fillAttr(&out.Attr, a)
	return n.childNode(a.Ino, a.Mode), &fileHandleFUSE{fsys: n.fsys, handle: h, ino: a.Ino}, 0, fs.OK
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.fsys.Unlink(n.ino, name))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.fsys.Rmdir(n.ino, name))
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*node)
	if !ok {
		return syscall.EINVAL
	}
	return errnoOf(n.fsys.Rename(n.ino, name, np.ino, newName))
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	a, err := n.fsys.Symlink(n.ino, name, target)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, a)
	return n.childNode(a.Ino, a.Mode), fs.OK
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	s, err := n.fsys.Readlink(n.ino)
	if err != nil {
		return nil, errnoOf(err)
	}
	return []byte(s), fs.OK
}

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	tn, ok := target.(*node)
	if !ok {
		return nil, syscall.EINVAL
	}
	a, err := n.fsys.Link(tn.ino, n.ino, name)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, a)
	return n.childNode(a.Ino, a.Mode), fs.OK
}

func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		if err := n.fsys.Truncate(n.ino, sz); err != nil {
			return errnoOf(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.fsys.Chmod(n.ino, mode); err != nil {
			return errnoOf(err)
		}
	}
	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		const unchanged = ^uint32(0)
		u, g := unchanged, unchanged
		if uok {
			u = uid
		}
		if gok {
			g = gid
		}
		if err := n.fsys.Chown(n.ino, u, g); err != nil {
			return errnoOf(err)
		}
	}
	if atime, ok := in.GetATime(); ok {
		mtime, mok := in.GetMTime()
		if !mok {
			mtime = time.Now()
		}
		if err := n.fsys.Utimens(n.ino, atime, mtime); err != nil {
			return errnoOf(err)
		}
	}

	a, err := n.fsys.GetAttrIno(n.ino)
	if err == nil {
		fillAttr(&out.Attr, a)
	}
	return fs.OK
}

// MountFUSE mounts fsys at mountpoint using go-fuse's high-level Inode
// API and returns the running server; it does not block; callers wait on
// the returned server (server.Wait) until it is unmounted.
func MountFUSE(fsys *FileSystem, mountpoint string, debug bool) (*fuse.Server, error) {
	root := &node{fsys: fsys, ino: RootIno}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      debug,
			FsName:     "ffsp",
			Name:       "ffsp",
			AllowOther: false,
		},
	}
	return fs.Mount(mountpoint, root, opts)
}
