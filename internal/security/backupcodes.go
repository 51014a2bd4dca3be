package security

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const backupCodeBytes = 10

// GenerateBackupCodes draws count random recovery codes. Codes are returned
// to the caller exactly once; only hashes go to storage.
func GenerateBackupCodes(count int) ([]string, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw := make([]byte, backupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		code := enc.EncodeToString(raw)
		// Hyphenate for readability; verification strips it back out.
		codes = append(codes, code[:8]+"-"+code[8:])
	}
	return codes, nil
}

// HashBackupCode produces the at-rest hash of one code.
func HashBackupCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(normalizeBackupCode(code)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// MatchBackupCode checks a candidate code against a stored hash.
func MatchBackupCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalizeBackupCode(code))) == nil
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}
