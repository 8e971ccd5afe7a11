package config

import (
	"github.com/google/uuid"
)

// PaperKeys builds Redis keys for cached test papers. A non-empty prefix
// namespaces deployments that share one Redis database.
type PaperKeys struct {
	prefix string
}

// NewPaperKeys returns key builders under prefix ("" for none).
func NewPaperKeys(prefix string) PaperKeys {
	if prefix != "" {
		prefix += ":"
	}
	return PaperKeys{prefix: prefix}
}

// Paper is the key holding one test's serialized paper.
func (k PaperKeys) Paper(testID uuid.UUID) string {
	return k.prefix + "test:" + testID.String() + ":paper"
}

// Pattern matches every paper key under this prefix. Used to flush on boot.
func (k PaperKeys) Pattern() string {
	return k.prefix + "test:*:paper"
}
