package login

import (
	"crypto/md5" //nolint:gosec // transfer-integrity checksum, not used for confidentiality
	"fmt"
	"os"
	"path/filepath"
)

// SurveyAsset is the single file served to accounts flagged
// survey_requested once their login proof succeeds (§4.5
// SURVEY_INITIATE). It is loaded once at startup, the same way the
// Patch Graph's lazily-computed fields are meant to be filled in —
// except a survey has exactly one file, so there is no repository
// round-trip to persist the computed MD5 back to.
type SurveyAsset struct {
	Filename string
	Content  []byte
	MD5      [16]byte
}

// LoadSurveyAsset reads path and computes its MD5, or returns nil if
// path is empty (survey step disabled).
func LoadSurveyAsset(path string) (*SurveyAsset, error) {
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("login: reading survey file %s: %w", path, err)
	}
	return &SurveyAsset{
		Filename: filepath.Base(path),
		Content:  content,
		MD5:      md5.Sum(content),
	}, nil
}
