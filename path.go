package ffsp

import "strings"

// resolve walks path component by component from the root inode,
// following each directory's dentry array via the directory engine. An
// empty path or "/" resolves to the root inode itself (spec.md §4.6).
func (fs *FileSystem) resolve(path string) (uint32, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return RootIno, nil
	}

	ino := RootIno
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		dir, err := fs.readInode(ino)
		if err != nil {
			return 0, err
		}
		if !isDirMode(dir.rec.Mode) {
			return 0, ErrNotDir
		}
		e, err := fs.lookupEntry(dir, comp)
		if err != nil {
			return 0, ErrNotFound
		}
		ino = e.Ino
	}
	return ino, nil
}

// resolveParent splits path into its containing directory's inode and
// the final path component's name, failing with ErrNotFound if any
// directory along the way is missing and ErrNotDir if a non-leaf
// component isn't a directory.
func (fs *FileSystem) resolveParent(path string) (parent uint32, name string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return 0, "", ErrInvalidArgument
	}
	i := strings.LastIndex(path, "/")
	if i < 0 {
		parentIno, err := fs.resolve("")
		return parentIno, path, err
	}
	parentIno, err := fs.resolve(path[:i])
	if err != nil {
		return 0, "", err
	}
	return parentIno, path[i+1:], nil
}
