package utils

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
)

func UnpackTarGz(tarGzFile string, dstFolder string) error {
	cmd := exec.Command("tar", "-xzf", tarGzFile, "-C", dstFolder)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w", err)
	}
	return nil
}

// IsTarGz sniffs the gzip signature; the tar layer inside is not checked
func IsTarGz(file string) bool {
	fileHandle, err := os.Open(file)
	if err != nil {
		return false
	}
	defer fileHandle.Close()

	buffer := make([]byte, 512) // Read the first 512 bytes for MIME detection
	n, err := io.ReadFull(fileHandle, buffer)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}

	switch http.DetectContentType(buffer[:n]) {
	case "application/x-gzip", "application/gzip":
		return true
	}
	return false
}
