// Package ocimerge flattens a stack of OCI image layers into a single
// directory tree, honoring whiteout files the way overlayfs and Docker do.
package ocimerge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	whiteoutPrefix = ".wh."
	whiteoutOpaque = ".wh..wh..opq"
)

// LayerSource is one layer's root directory to merge, in bottom-to-top
// order: layers[0] is applied first, later layers may whiteout its files.
type LayerSource struct {
	Path string
}

// Merge flattens layers (bottom to top) into destDir, which must already
// exist. Each layer after the first is merged with whiteout processing;
// the first layer is copied as-is since there is nothing underneath it to
// hide.
func Merge(layers []LayerSource, destDir string) error {
	if len(layers) == 0 {
		return fmt.Errorf("ocimerge: no layers given")
	}
	for i, layer := range layers {
		if err := copyTree(layer.Path, destDir, i > 0); err != nil {
			return fmt.Errorf("ocimerge: merging layer %d (%s): %w", i, layer.Path, err)
		}
	}
	return nil
}

// copyTree copies source into dest, applying OCI whiteout semantics when
// processWhiteouts is true.
func copyTree(sourceDir, destDir string, processWhiteouts bool) error {
	guard := newPermissionGuard()

	stack := []string{sourceDir}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := guard.makeReadableWritable(current); err != nil {
			return err
		}

		rel, err := filepath.Rel(sourceDir, current)
		if err != nil {
			return err
		}
		targetDir := filepath.Join(destDir, rel)
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return err
		}

		entries, err := os.ReadDir(current)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			name := entry.Name()
			path := filepath.Join(current, name)

			if processWhiteouts && strings.HasPrefix(name, whiteoutPrefix) {
				if name == whiteoutOpaque {
					if err := applyOpaqueWhiteout(sourceDir, destDir, current, targetDir, guard, &stack); err != nil {
						return err
					}
					continue
				}
				if err := removeWhiteoutTarget(targetDir, strings.TrimPrefix(name, whiteoutPrefix)); err != nil {
					return err
				}
				continue
			}

			targetPath := filepath.Join(destDir, strings.TrimPrefix(path, sourceDir+string(filepath.Separator)))

			if err := guard.makeReadableWritable(path); err != nil {
				return err
			}
			if err := guard.makeWritable(filepath.Dir(targetPath)); err != nil {
				return err
			}

			isDir, err := handleFsEntry(path, targetPath, guard)
			if err != nil {
				return err
			}
			if isDir {
				stack = append(stack, path)
			}
		}
	}

	return nil
}

// applyOpaqueWhiteout drops everything previously merged into targetDir,
// then re-copies current's remaining siblings (skipping the opaque marker
// itself) so nothing below this layer survives.
func applyOpaqueWhiteout(sourceDir, destDir, current, targetDir string, guard *permissionGuard, stack *[]string) error {
	if _, err := os.Stat(targetDir); err == nil {
		if err := os.RemoveAll(targetDir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(current)
	if err != nil {
		return err
	}
	for _, sibling := range entries {
		if sibling.Name() == whiteoutOpaque {
			continue
		}
		siblingPath := filepath.Join(current, sibling.Name())
		rel, err := filepath.Rel(sourceDir, siblingPath)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(destDir, rel)

		isDir, err := handleFsEntry(siblingPath, targetPath, guard)
		if err != nil {
			return err
		}
		if isDir {
			*stack = append(*stack, siblingPath)
		}
	}
	return nil
}

func removeWhiteoutTarget(targetDir, originalName string) error {
	targetPath := filepath.Join(targetDir, originalName)
	info, err := os.Lstat(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(targetPath)
	}
	return os.Remove(targetPath)
}

// handleFsEntry copies, links, or recreates one filesystem entry at
// targetPath from sourcePath, preserving type (dir/file/symlink/FIFO) and
// the original mode recorded by guard. It reports whether the entry is a
// directory, so the caller can push it onto its traversal stack.
func handleFsEntry(sourcePath, targetPath string, guard *permissionGuard) (bool, error) {
	info, err := os.Lstat(sourcePath)
	if err != nil {
		return false, err
	}

	switch {
	case info.IsDir():
		if err := os.MkdirAll(targetPath, 0o755); err != nil {
			return false, err
		}

	case info.Mode()&os.ModeSymlink != 0:
		linkTarget, err := os.Readlink(sourcePath)
		if err != nil {
			return false, err
		}
		if err := removeExisting(targetPath); err != nil {
			return false, err
		}
		if err := os.Symlink(linkTarget, targetPath); err != nil {
			return false, err
		}
		return false, nil // symlinks carry no independent permissions

	case info.Mode()&os.ModeNamedPipe != 0:
		if err := removeExisting(targetPath); err != nil {
			return false, err
		}
		if err := unix.Mkfifo(targetPath, uint32(info.Mode().Perm())); err != nil {
			return false, err
		}

	default:
		if sameHardLink(sourcePath, targetPath) {
			return false, nil
		}
		if err := copyFile(sourcePath, targetPath, info.Mode()); err != nil {
			return false, err
		}
	}

	mode := guard.originalMode(sourcePath, info.Mode())
	if err := os.Chmod(targetPath, mode.Perm()); err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// sameHardLink reports whether sourcePath and targetPath already refer to
// the same inode on the same device, so a copy can be skipped.
func sameHardLink(sourcePath, targetPath string) bool {
	srcInfo, err := os.Lstat(sourcePath)
	if err != nil {
		return false
	}
	dstInfo, err := os.Lstat(targetPath)
	if err != nil {
		return false
	}
	srcStat, ok1 := srcInfo.Sys().(*syscall.Stat_t)
	dstStat, ok2 := dstInfo.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false
	}
	return srcStat.Dev == dstStat.Dev && srcStat.Ino == dstStat.Ino
}

func copyFile(sourcePath, targetPath string, mode fs.FileMode) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	return os.WriteFile(targetPath, data, mode.Perm())
}

func removeExisting(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}
