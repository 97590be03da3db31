package digest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hitoshi/techdigest/internal/model"
)

// FileName はダイジェストの保存ファイル名を返す。日付はUTCの生成日。
func FileName(d *model.Digest) string {
	return fmt.Sprintf("digest-%s.json", d.GeneratedAt.UTC().Format("2006-01-02"))
}

// SaveToFile はダイジェストをdir配下にJSONで保存し、保存先のパスを返す。
// 同じ日付のファイルは上書きする。
func SaveToFile(d *model.Digest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(d.WithoutSecrets(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode digest: %w", err)
	}

	path := filepath.Join(dir, FileName(d))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write digest file: %w", err)
	}
	return path, nil
}
