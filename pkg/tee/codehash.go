package tee

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ComputeCodeHash deterministically hashes every .go source file under root,
// proving the exact code a given boot is running — grounded on
// gateway_tee_service.py's compute_code_hash, which hashes gateway/api,
// gateway/tasks, gateway/utils, gateway/models, gateway/tee, and
// gateway/middleware. Test files and anything under a "testdata" or
// vendored directory are excluded the same way compute_code_hash skips
// test_*.py and __pycache__.
func ComputeCodeHash(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == "testdata" || name == "vendor" || name == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		if isTestFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		h.Write([]byte(filepath.Base(path)))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	return len(base) > len("_test.go") && base[len(base)-len("_test.go"):] == "_test.go"
}
