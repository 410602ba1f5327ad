package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveModelDir turns the --model value into a directory. A relative name
// that does not exist as given is looked up under modelsDir.
func resolveModelDir(model, modelsDir string) (string, error) {
	model = strings.TrimSpace(model)
	modelsDir = strings.TrimSpace(modelsDir)
	if model == "" {
		if modelsDir == "" {
			return "", errors.New("no model given (use --model or $" + envModelDir + ")")
		}
		return "", fmt.Errorf("no model given; models_dir is %s", modelsDir)
	}

	candidates := []string{filepath.Clean(model)}
	if modelsDir != "" && !filepath.IsAbs(model) {
		candidates = append(candidates, filepath.Join(modelsDir, model))
	}
	for _, c := range candidates {
		st, err := os.Stat(c)
		if err != nil {
			continue
		}
		if !st.IsDir() {
			return "", fmt.Errorf("model path %q is not a directory", c)
		}
		return c, nil
	}
	return "", fmt.Errorf("model directory %q not found", model)
}
