// Package embedcache decorates embedders with an in-process LRU layer and a
// persistent layer backed by the embedding_cache table.
package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// entryKey identifies one embedding. The same text embedded for a query and
// for a document yields different vectors with some providers, so the task
// type is part of the identity.
type entryKey struct {
	model    string
	taskType string
	digest   string
}

func newEntryKey(modelName, taskType, text string) entryKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	sum := sha256.Sum256([]byte(text))
	return entryKey{model: modelName, taskType: taskType, digest: hex.EncodeToString(sum[:])}
}

func (k entryKey) String() string {
	return k.model + "|" + k.taskType + "|" + k.digest
}

func copyVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
