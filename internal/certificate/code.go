package certificate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
)

const (
	// CodePrefix starts every verification code.
	CodePrefix = "FV-"
	// CodeAlphabet excludes 0, O, 1 and I.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of random characters after the prefix.
	CodeLength = 5
)

// NewVerificationCode returns CodePrefix followed by CodeLength random
// characters from CodeAlphabet.
func NewVerificationCode() (string, error) {
	var b strings.Builder
	b.Grow(len(CodePrefix) + CodeLength)
	b.WriteString(CodePrefix)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a user-typed code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type hashInput struct {
	UserID        string   `json:"userId"`
	CourseID      string   `json:"courseId"`
	CourseVersion int      `json:"courseVersion"`
	LessonIDs     []string `json:"lessonIds"`
}

// IntegrityHash is the hex SHA-256 of the canonical JSON of the facts a
// certificate was issued against. Lesson order does not matter.
func IntegrityHash(userID, courseID string, courseVersion int, lessonIDs []string) (string, error) {
	ids := append([]string(nil), lessonIDs...)
	sort.Strings(ids)
	raw, err := json.Marshal(hashInput{
		UserID:        userID,
		CourseID:      courseID,
		CourseVersion: courseVersion,
		LessonIDs:     ids,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
