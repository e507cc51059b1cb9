package ghidra

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound is returned when no Ghidra installation can be located.
var ErrNotFound = errors.New("ghidra not found")

// Install is a located Ghidra installation.
type Install struct {
	Home            string
	AnalyzeHeadless string
	// JavaHome is set when JAVA_HOME is unset and a JDK could be found.
	JavaHome string
}

func headlessName() string {
	if runtime.GOOS == "windows" {
		return "analyzeHeadless.bat"
	}
	return "analyzeHeadless"
}

// Locate finds analyzeHeadless. Search order:
//  1. explicit home (--ghidra-home or config)
//  2. GHIDRA_HOME
//  3. analyzeHeadless in PATH
//  4. ghidraRun in PATH, following brew's wrapper script
//  5. brew Caskroom and Cellar paths
func Locate(explicitHome string) (Install, error) {
	inst, err := locate(explicitHome)
	if err != nil {
		return Install{}, err
	}
	if os.Getenv("JAVA_HOME") == "" {
		inst.JavaHome = findJavaHome(inst.Home)
	}
	return inst, nil
}

func locate(explicitHome string) (Install, error) {
	if explicitHome != "" {
		if ah, ok := headlessIn(explicitHome); ok {
			return Install{Home: explicitHome, AnalyzeHeadless: ah}, nil
		}
		return Install{}, fmt.Errorf("%w: no support/%s under %s", ErrNotFound, headlessName(), explicitHome)
	}

	if gh := os.Getenv("GHIDRA_HOME"); gh != "" {
		if ah, ok := headlessIn(gh); ok {
			return Install{Home: gh, AnalyzeHeadless: ah}, nil
		}
	}

	if ah, err := exec.LookPath(headlessName()); err == nil {
		// support/analyzeHeadless -> home
		return Install{Home: filepath.Dir(filepath.Dir(ah)), AnalyzeHeadless: ah}, nil
	}

	if gr, err := exec.LookPath("ghidraRun"); err == nil {
		if home := deriveHome(gr); home != "" {
			if ah, ok := headlessIn(home); ok {
				return Install{Home: home, AnalyzeHeadless: ah}, nil
			}
		}
	}

	// Caskroom layout: ghidra/<ver>/ghidra_<ver>_PUBLIC/support/analyzeHeadless
	for _, cp := range []string{"/opt/homebrew/Caskroom/ghidra", "/usr/local/Caskroom/ghidra"} {
		versions, err := os.ReadDir(cp)
		if err != nil {
			continue
		}
		for i := len(versions) - 1; i >= 0; i-- {
			if !versions[i].IsDir() {
				continue
			}
			subs, _ := os.ReadDir(filepath.Join(cp, versions[i].Name()))
			for _, sub := range subs {
				if !sub.IsDir() {
					continue
				}
				home := filepath.Join(cp, versions[i].Name(), sub.Name())
				if ah, ok := headlessIn(home); ok {
					return Install{Home: home, AnalyzeHeadless: ah}, nil
				}
			}
		}
	}

	// Cellar layout: ghidra/<ver>/libexec/support/analyzeHeadless
	for _, bp := range []string{"/opt/homebrew/Cellar/ghidra", "/usr/local/Cellar/ghidra"} {
		versions, err := os.ReadDir(bp)
		if err != nil {
			continue
		}
		for i := len(versions) - 1; i >= 0; i-- {
			if !versions[i].IsDir() {
				continue
			}
			home := filepath.Join(bp, versions[i].Name(), "libexec")
			if ah, ok := headlessIn(home); ok {
				return Install{Home: home, AnalyzeHeadless: ah}, nil
			}
		}
	}

	return Install{}, fmt.Errorf(`%w

Install Ghidra:
  brew install ghidra

Or set GHIDRA_HOME:
  export GHIDRA_HOME=/path/to/ghidra

Or pass --ghidra-home:
  tablewalk --backend ghidra --ghidra-home /path/to/ghidra <binary>`, ErrNotFound)
}

func headlessIn(home string) (string, bool) {
	ah := filepath.Join(home, "support", headlessName())
	if _, err := os.Stat(ah); err != nil {
		return "", false
	}
	return ah, true
}

// deriveHome reads a ghidraRun wrapper to find the real install. Brew's
// wrapper contains: exec "/opt/homebrew/Cellar/ghidra/X.Y.Z/libexec/ghidraRun"
func deriveHome(ghidraRun string) string {
	data, err := os.ReadFile(ghidraRun)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(ghidraRun), "support")); err == nil {
		return filepath.Dir(ghidraRun)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "exec") || !strings.Contains(line, "ghidraRun") {
			continue
		}
		_, rest, ok := strings.Cut(line, `"`)
		if !ok {
			continue
		}
		target, _, ok := strings.Cut(rest, `"`)
		if !ok {
			continue
		}
		home := filepath.Dir(target)
		if _, err := os.Stat(filepath.Join(home, "support")); err == nil {
			return home
		}
	}
	return ""
}

// findJavaHome looks for a JDK: first a JAVA_HOME default in the ghidraRun
// wrapper (JAVA_HOME="${JAVA_HOME:-/path}"), then common brew paths.
func findJavaHome(home string) string {
	if data, err := os.ReadFile(filepath.Join(home, "ghidraRun")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.Contains(line, "JAVA_HOME") {
				continue
			}
			_, rest, ok := strings.Cut(line, ":-")
			if !ok {
				continue
			}
			if end := strings.IndexAny(rest, `}"`); end > 0 {
				if _, err := os.Stat(rest[:end]); err == nil {
					return rest[:end]
				}
			}
		}
	}
	for _, jh := range []string{
		"/opt/homebrew/opt/openjdk@21/libexec/openjdk.jdk/Contents/Home",
		"/opt/homebrew/opt/openjdk/libexec/openjdk.jdk/Contents/Home",
		"/usr/local/opt/openjdk@21/libexec/openjdk.jdk/Contents/Home",
	} {
		if _, err := os.Stat(jh); err == nil {
			return jh
		}
	}
	return ""
}
