package cast

import (
	"encoding/json"
	"fmt"
	"os"
)

// atomicWriteJSON marshals v and writes it to path via a temp-file-then-rename,
// matching the atomic-persistence convention used throughout this module
// (trust.Store, entitlement.LicenseStore, policy.Save).
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
