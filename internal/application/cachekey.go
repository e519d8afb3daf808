// Package application contains use-case orchestration services.
package application

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// KeyVars supplies the values available to cache key templates.
type KeyVars struct {
	// OS substitutes ${os}.
	OS string
	// Env substitutes ${env.NAME}; populated from the workflow env plus the
	// runner's cache-invalidation counter (CACHE_EPOCH).
	Env map[string]string
	// Matrix substitutes ${matrix.NAME} from the job's variant.
	Matrix map[string]string
	// WorkspaceDir anchors the relative paths given to ${hashFiles(...)}.
	WorkspaceDir string
}

var keyToken = regexp.MustCompile(`\$\{([^}]*)\}`)

// RenderCacheKey expands a cache key template such as
//
//	${os}-conda-${env.CACHE_EPOCH}-${hashFiles(requirements/conda.txt)}
//
// into a concrete key. Unknown tokens and unreadable hashFiles inputs are
// errors: a silently wrong key would poison the cache across pushes.
func RenderCacheKey(template string, vars KeyVars) (string, error) {
	var renderErr error

	rendered := keyToken.ReplaceAllStringFunc(template, func(match string) string {
		token := strings.TrimSpace(match[2 : len(match)-1])

		value, err := expandToken(token, vars)
		if err != nil && renderErr == nil {
			renderErr = err
		}
		return value
	})

	if renderErr != nil {
		return "", fmt.Errorf("render cache key %q: %w", template, renderErr)
	}

	return rendered, nil
}

func expandToken(token string, vars KeyVars) (string, error) {
	switch {
	case token == "os":
		return vars.OS, nil

	case strings.HasPrefix(token, "env."):
		name := strings.TrimPrefix(token, "env.")
		value, ok := vars.Env[name]
		if !ok {
			return "", fmt.Errorf("undefined env variable %q", name)
		}
		return value, nil

	case strings.HasPrefix(token, "matrix."):
		name := strings.TrimPrefix(token, "matrix.")
		value, ok := vars.Matrix[name]
		if !ok {
			return "", fmt.Errorf("undefined matrix variable %q", name)
		}
		return value, nil

	case strings.HasPrefix(token, "hashFiles(") && strings.HasSuffix(token, ")"):
		args := strings.TrimSuffix(strings.TrimPrefix(token, "hashFiles("), ")")
		var paths []string
		for _, p := range strings.Split(args, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		if len(paths) == 0 {
			return "", fmt.Errorf("hashFiles requires at least one path")
		}
		return hashFiles(vars.WorkspaceDir, paths)

	default:
		return "", fmt.Errorf("unknown token %q", token)
	}
}

// hashFiles computes a deterministic digest over the named files: paths are
// sorted, and each path and its content are written length-prefixed so
// adjacent fields cannot alias. Any change to any file's content produces a
// different digest.
func hashFiles(root string, paths []string) (string, error) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	hasher := sha256.New()
	var lenBuf [8]byte

	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		hasher.Write(lenBuf[:])
		hasher.Write(data)
	}

	for _, rel := range sorted {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("hashFiles %s: %w", rel, err)
		}
		writeField([]byte(rel))
		writeField(content)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
