package kws

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// BundledLibDir is the directory holding per-platform onnxruntime libraries,
// e.g. lib/linux_amd64/libonnxruntime.so.
const BundledLibDir = "lib"

// DataDir holds the keyword model, labels and optionally the runtime library
// under a platform-specific name such as onnxruntime_arm64.dylib.
const DataDir = "data"

// InitRuntime points onnxruntime at libPath and initialises its environment.
// An empty libPath is resolved from DataDir and BundledLibDir under the
// working directory and the executable's directory; when nothing is found the
// library's default search path is used. Calling it again is a no-op.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = resolveBundledLib(candidateBaseDirs())
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("kws: init onnxruntime (%q): %w", libPath, err)
	}
	return nil
}

// DestroyRuntime tears down the onnxruntime environment.
func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// bundledLibNames lists candidate library names for the current OS. Linux
// releases ship a versioned .so; the first existing file wins.
func bundledLibNames() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libonnxruntime.dylib"}
	case "windows":
		return []string{"onnxruntime.dll"}
	default:
		return []string{"libonnxruntime.so.1.23.2", "libonnxruntime.so"}
	}
}

func dataDirLibName() string {
	switch runtime.GOOS {
	case "darwin":
		return "onnxruntime_" + runtime.GOARCH + ".dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "onnxruntime_" + runtime.GOARCH + ".so"
	}
}

// candidateBaseDirs returns the working directory and, if different, the
// directory of the running executable.
func candidateBaseDirs() []string {
	cwd, _ := os.Getwd()
	exe, err := os.Executable()
	if err != nil {
		return []string{cwd}
	}
	exeDir := filepath.Dir(exe)
	if exeDir == cwd {
		return []string{cwd}
	}
	return []string{cwd, exeDir}
}

// resolveBundledLib returns the first existing library path: DataDir with the
// platform-specific name first, then BundledLibDir/<GOOS_GOARCH>/.
func resolveBundledLib(baseDirs []string) string {
	platform := runtime.GOOS + "_" + runtime.GOARCH
	dataName := dataDirLibName()
	for _, base := range baseDirs {
		if base == "" {
			continue
		}
		if p := filepath.Join(base, DataDir, dataName); pathExists(p) {
			return p
		}
	}
	for _, base := range baseDirs {
		if base == "" {
			continue
		}
		for _, name := range bundledLibNames() {
			if p := filepath.Join(base, BundledLibDir, platform, name); pathExists(p) {
				return p
			}
		}
	}
	return ""
}
