package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aip-agents/aip/pkg/dotdir"
)

// defaultDBName is the SQLite file created in the .aip/ directory when no
// path is configured.
const defaultDBName = "aip.db"

// ResolveSQLitePath picks the SQLite database file. An explicit path wins;
// otherwise the first existing well-known database is used, falling back to
// aip.db inside the resolved .aip/ directory.
func ResolveSQLitePath(override, configDir string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	target, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return "", fmt.Errorf("resolving sqlite path: %w", err)
	}
	return filepath.Join(target, defaultDBName), nil
}

func sqliteCandidates() []string {
	candidates := []string{
		filepath.Join(".aip", defaultDBName),
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append([]string{
			filepath.Join(xdgHome, "aip", defaultDBName),
		}, candidates...)
	}

	return candidates
}
