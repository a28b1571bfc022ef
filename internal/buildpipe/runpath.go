package buildpipe

import (
	"bytes"
	"fmt"
	"os"

	"github.com/packforge/packforge/internal/utils/logger"
	"github.com/packforge/packforge/internal/utils/shell"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// isELF reports whether a staged file starts with the ELF magic bytes.
// Symlinks and unreadable files are skipped, not errors.
func isELF(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return false
	}
	return bytes.Equal(magic, elfMagic)
}

// convertLinkageMode rewrites the dynamic linker search-path entries of the
// staged ELF files from RUNPATH to RPATH. Rpath-linked builds are treated as
// non-relocatable and published as a single variant.
func convertLinkageMode(staged []string) error {
	log := logger.Logger()

	rewritten := 0
	for _, path := range staged {
		if !isELF(path) {
			continue
		}
		cmd := fmt.Sprintf(`patchelf --force-rpath --set-rpath "$(patchelf --print-rpath %s)" %s`, path, path)
		if out, err := shell.ExecCmd(cmd, false, "", nil); err != nil {
			return fmt.Errorf("converting %s to rpath linkage: %s: %w", path, out, err)
		}
		rewritten++
	}

	log.Debugf("converted %d ELF files to rpath linkage", rewritten)
	return nil
}
