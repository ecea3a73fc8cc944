package toolbridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

// render flattens a tool result into the adapter output string. Structured
// content wins; otherwise text blocks are joined by newlines and binary
// blocks are saved under artifactsDir, contributing their relative path.
func render(result *mcp.CallToolResult, artifactsDir, prefix string) (string, error) {
	if result == nil {
		return "", fmt.Errorf("tool returned no result")
	}

	if result.StructuredContent != nil {
		data, err := dsl.MarshalSorted(result.StructuredContent, "")
		if err == nil {
			return string(data), nil
		}
	}

	var parts []string
	for _, content := range result.Content {
		rendered, err := renderContent(content, artifactsDir, prefix)
		if err != nil {
			return "", err
		}
		parts = append(parts, rendered)
	}
	return strings.Join(parts, "\n"), nil
}

// contentBlock is the wire shape shared by every content kind.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
	Resource *struct {
		Text     string `json:"text"`
		Blob     string `json:"blob"`
		MIMEType string `json:"mimeType"`
	} `json:"resource"`
}

func renderContent(content mcp.Content, artifactsDir, prefix string) (string, error) {
	switch c := content.(type) {
	case mcp.TextContent:
		return c.Text, nil
	case *mcp.TextContent:
		return c.Text, nil
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encoding tool content: %w", err)
	}
	var block contentBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return "", fmt.Errorf("decoding tool content: %w", err)
	}

	switch block.Type {
	case "text":
		return block.Text, nil
	case "image", "audio":
		return saveBase64(artifactsDir, prefix, block.MIMEType, block.Data)
	case "resource":
		if block.Resource == nil {
			return string(raw), nil
		}
		if block.Resource.Blob != "" {
			return saveBase64(artifactsDir, prefix, block.Resource.MIMEType, block.Resource.Blob)
		}
		return block.Resource.Text, nil
	default:
		return string(raw), nil
	}
}

func saveBase64(artifactsDir, prefix, mimeType, encoded string) (string, error) {
	if artifactsDir == "" {
		return "", fmt.Errorf("tool returned binary content but no artifacts directory is set")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("tool returned invalid base64 content: %w", err)
	}
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(artifactsDir, prefix+"-*"+extForMIMEType(mimeType))
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return filepath.Base(name), nil
}

func extForMIMEType(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType != "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			return exts[0]
		}
		if strings.HasPrefix(mimeType, "text/") {
			return ".txt"
		}
		if strings.Contains(mimeType, "json") {
			return ".json"
		}
	}
	return ".bin"
}
