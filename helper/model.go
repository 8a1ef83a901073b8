package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

// DefaultModelDir is where local embedding models are stored.
const DefaultModelDir = "./models"

// PrepareModel downloads a Hugging Face model into DefaultModelDir unless it
// is already there and returns its local path. onnxFilePath selects the onnx
// file inside the repository when it holds more than one.
func PrepareModel(modelName string, onnxFilePath string) (string, error) {
	modelPath := filepath.Join(DefaultModelDir, strings.ReplaceAll(modelName, "/", "_"))

	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(DefaultModelDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	downloadOptions := hugot.NewDownloadOptions()
	if onnxFilePath != "" {
		downloadOptions.OnnxFilePath = onnxFilePath
	}
	downloadedPath, err := hugot.DownloadModel(modelName, DefaultModelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}

	return downloadedPath, nil
}
