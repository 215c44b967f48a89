package rclone

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// writeConfigFileLocked renders every configured remote into the engine
// config file. Caller holds s.mu. The file is written via a temp file and
// rename so a running engine process never sees a half-written config.
func (s *Service) writeConfigFileLocked() error {
	if s.configFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.configFile), 0755); err != nil {
		return fmt.Errorf("failed to create engine config directory: %w", err)
	}

	var b strings.Builder

	names := make([]string, 0, len(s.remotes))
	for name := range s.remotes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := s.remotes[name]
		if entry.section == nil {
			// local endpoints need no remote definition
			continue
		}

		fmt.Fprintf(&b, "[%s]\n", name)

		keys := make([]string, 0, len(entry.section))
		for key := range entry.section {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		// type first, matching what rclone itself writes
		for i, key := range keys {
			if key == "type" {
				keys = append([]string{"type"}, append(keys[:i:i], keys[i+1:]...)...)
				break
			}
		}

		for _, key := range keys {
			fmt.Fprintf(&b, "%s = %s\n", key, entry.section[key])
		}
		b.WriteString("\n")
	}

	tmp := s.configFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write engine config: %w", err)
	}
	if err := os.Rename(tmp, s.configFile); err != nil {
		return fmt.Errorf("failed to replace engine config: %w", err)
	}
	return nil
}
