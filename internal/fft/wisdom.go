package fft

import (
	"fmt"
	"os"
	"path/filepath"
)

// wisdomFile is the marker recording that the plan cache was used. The
// pure-Go backend rebuilds plans from scratch cheaply, so unlike FFTW
// wisdom the file carries no tuning data, only provenance.
const wisdomFile = "branchflow_fft.wisdom"

// TouchWisdom writes the plan-cache marker into the user cache
// directory. Failures are reported but harmless.
func TouchWisdom() error {
	dir, err := os.UserCacheDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, wisdomFile)

	planCache.Lock()
	lengths := make([]int, 0, len(planCache.pools))
	for n := range planCache.pools {
		lengths = append(lengths, n)
	}
	planCache.Unlock()

	return os.WriteFile(path, []byte(fmt.Sprintf("plan lengths: %v\n", lengths)), 0o644)
}
