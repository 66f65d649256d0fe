package rasterizer

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu would otherwise create a config directory under $HOME.
	api.DisableConfigDir()
}

// PDFCPUDecrypter removes PDF encryption in memory with pdfcpu.
type PDFCPUDecrypter struct{}

// Decrypt returns a decrypted copy of data. The password is tried as both
// the user and the owner password.
func (PDFCPUDecrypter) Decrypt(data []byte, password string) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &out, conf); err != nil {
		return nil, fmt.Errorf("pdfcpu decrypt: %w", err)
	}
	return out.Bytes(), nil
}
