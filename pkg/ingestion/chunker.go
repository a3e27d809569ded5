// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"fmt"
)

// Default chunking parameters. A 1500-character window with 200 characters of
// overlap keeps chunks within embedding-model input limits while preserving
// context across boundaries.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// Chunk is a contiguous slice of a source file's text, the unit of embedding
// and retrieval. Slicing is character-based (runes): each chunk holds at most
// chunkSize characters and shares exactly overlap characters with its
// predecessor. Ordinal is the zero-based position of the chunk within its file.
type Chunk struct {
	Path    string
	Content string
	Ordinal int
}

// ChunkText splits content into overlapping windows of at most chunkSize
// characters, advancing by chunkSize-overlap each step. The final chunk may be
// shorter. Empty content yields no chunks.
//
// ChunkText is pure and deterministic; it fails only on invalid parameters
// (chunkSize <= 0 or overlap >= chunkSize), which is a configuration error
// and is never silently corrected.
func ChunkText(content, path string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d: must be positive", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("invalid overlap %d: must be in [0, chunkSize)", overlap)
	}

	runes := []rune(content)
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	step := chunkSize - overlap
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Path:    path,
			Content: string(runes[start:end]),
			Ordinal: len(chunks),
		})
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// ChunkFiles chunks every source file with the given parameters, preserving
// file order and per-file chunk order.
func ChunkFiles(files []SourceFile, chunkSize, overlap int) ([]Chunk, error) {
	var all []Chunk
	for _, f := range files {
		chunks, err := ChunkText(f.Content, f.Path, chunkSize, overlap)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}
