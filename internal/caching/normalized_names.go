// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package caching

import (
	"strings"
	"unicode"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizedNamesCache caches accent-folded, lower-cased room names so that
// matching a search pattern over a large room list does not normalise every
// name on every keystroke.
type NormalizedNamesCache interface {
	Normalize(name string) string
}

// DefaultNormalizedNamesMaxCost bounds the cache to roughly 1MB of names.
const DefaultNormalizedNamesMaxCost = 1 << 20

// RistrettoNormalizedNames is a NormalizedNamesCache backed by ristretto.
type RistrettoNormalizedNames struct {
	cache *ristretto.Cache
}

// NewRistrettoNormalizedNames creates a cache bounded by maxCost bytes.
func NewRistrettoNormalizedNames(maxCost int64) *RistrettoNormalizedNames {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: (maxCost / 32) * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		logrus.WithError(err).Panic("Failed to create normalized names cache")
	}
	return &RistrettoNormalizedNames{cache: cache}
}

// Normalize returns the accent-folded, lower-cased form of the name.
func (c *RistrettoNormalizedNames) Normalize(name string) string {
	if name == "" {
		return ""
	}
	if v, ok := c.cache.Get(name); ok {
		if normalized, ok := v.(string); ok {
			return normalized
		}
	}
	normalized := Normalize(name)
	c.cache.Set(name, normalized, int64(len(name)+len(normalized)))
	return normalized
}

// Wait blocks until pending writes are visible to Get.
func (c *RistrettoNormalizedNames) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *RistrettoNormalizedNames) Close() {
	c.cache.Close()
}

// Normalize strips combining marks and lower-cases the string without
// consulting any cache.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
