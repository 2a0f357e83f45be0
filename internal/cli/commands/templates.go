package commands

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed all:templates
var templateFS embed.FS

// copyTemplate copies an embedded template directory to targetDir and
// returns the files written, relative to targetDir. Existing files are
// kept unless force is set.
func copyTemplate(templateName, targetDir string, force bool) ([]string, error) {
	root := path.Join("templates", templateName)
	var written []string

	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}

		relPath := renameSpecialFiles(p[len(root)+1:])
		targetPath := filepath.Join(targetDir, filepath.FromSlash(relPath))

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o750)
		}
		if !force {
			if _, err := os.Stat(targetPath); err == nil {
				return nil
			}
		}

		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(targetPath, content, 0o600); err != nil {
			return err
		}
		written = append(written, relPath)
		return nil
	})
	return written, err
}

// renameSpecialFiles turns embedded names into dotfiles. Files starting
// with a dot cannot be embedded without all:.
func renameSpecialFiles(p string) string {
	dir, base := path.Split(p)
	if base == "gitignore" {
		return dir + ".gitignore"
	}
	return p
}
