package qrcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	goqrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Generator renders deep links into PNG QR codes.
type Generator struct {
	dir  string
	size int
}

// NewGenerator writes images under dir (os.TempDir when empty).
func NewGenerator(dir string, size int) *Generator {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if size <= 0 {
		size = defaultSize
	}
	return &Generator{dir: dir, size: size}
}

// PNG encodes content and returns the image bytes.
func (g *Generator) PNG(content string) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("qr content is required")
	}
	png, err := goqrcode.Encode(content, goqrcode.Medium, g.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// WriteFile encodes content into a uniquely named PNG and returns its path.
// Callers own the file and should remove it once sent.
func (g *Generator) WriteFile(prefix, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("qr content is required")
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", g.dir, err)
	}
	name := fmt.Sprintf("%s_%s.png", sanitize(prefix), uuid.NewString())
	path := filepath.Join(g.dir, name)
	if err := goqrcode.WriteFile(content, goqrcode.Medium, g.size, path); err != nil {
		return "", fmt.Errorf("write qr %q: %w", path, err)
	}
	return path, nil
}

func sanitize(prefix string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(prefix))
	if clean == "" {
		return "qr"
	}
	return clean
}
