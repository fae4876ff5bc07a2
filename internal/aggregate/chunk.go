package aggregate

import "slices"

// DefaultChunkSize is the largest id list sent in one membership count.
const DefaultChunkSize = 10

// chunkIDs splits ids into consecutive chunks of at most size ids.
func chunkIDs(ids []string, size int) [][]string {
	if size < 1 {
		size = DefaultChunkSize
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for chunk := range slices.Chunk(ids, size) {
		chunks = append(chunks, chunk)
	}
	return chunks
}
