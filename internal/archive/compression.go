package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "panel-backup/internal/errors"
)

// CompressionType names an archive compression algorithm
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionLZ4  CompressionType = "lz4"
	CompressionZstd CompressionType = "zstd"
)

// Extension returns the object name suffix for the algorithm
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// CompressionStats describes one compression call
type CompressionStats struct {
	OriginalSize   int64           `json:"original_size"`
	CompressedSize int64           `json:"compressed_size"`
	Ratio          float64         `json:"ratio"`
	Algorithm      CompressionType `json:"algorithm"`
	Level          int             `json:"level"`
	Duration       time.Duration   `json:"duration"`
}

// Compressor is one algorithm
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	DefaultLevel() int
	LevelRange() (lo, hi int)
}

// CompressionManager dispatches to the registered compressors
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager registers gzip, lz4 and zstd
func NewCompressionManager() *CompressionManager {
	return &CompressionManager{
		compressors: map[CompressionType]Compressor{
			CompressionGzip: gzipCompressor{},
			CompressionLZ4:  lz4Compressor{},
			CompressionZstd: zstdCompressor{},
		},
	}
}

// Compress compresses data. An out-of-range level falls back to the algorithm default.
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()
	if algorithm == CompressionNone || algorithm == "" {
		return data, &CompressionStats{
			OriginalSize:   int64(len(data)),
			CompressedSize: int64(len(data)),
			Ratio:          1.0,
			Algorithm:      CompressionNone,
		}, nil
	}

	compressor, ok := cm.compressors[algorithm]
	if !ok {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm))
	}

	lo, hi := compressor.LevelRange()
	if level < lo || level > hi {
		level = compressor.DefaultLevel()
	}

	out, err := compressor.Compress(data, level)
	if err != nil {
		return nil, nil, apperrors.NewStorageError(fmt.Sprintf("%s compression failed", algorithm), err)
	}

	return out, &CompressionStats{
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(out)),
		Ratio:          ratio(int64(len(data)), int64(len(out))),
		Algorithm:      algorithm,
		Level:          level,
		Duration:       time.Since(start),
	}, nil
}

// Decompress reverses Compress
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionNone || algorithm == "" {
		return data, nil
	}

	compressor, ok := cm.compressors[algorithm]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm))
	}

	out, err := compressor.Decompress(data)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("%s decompression failed", algorithm), err)
	}
	return out, nil
}

// Supported reports whether algorithm can be used
func (cm *CompressionManager) Supported(algorithm CompressionType) bool {
	if algorithm == CompressionNone || algorithm == "" {
		return true
	}
	_, ok := cm.compressors[algorithm]
	return ok
}

func ratio(original, compressed int64) float64 {
	if original == 0 {
		return 1.0
	}
	return float64(compressed) / float64(original)
}

type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (gzipCompressor) DefaultLevel() int { return gzip.DefaultCompression }

func (gzipCompressor) LevelRange() (int, int) { return gzip.BestSpeed, gzip.BestCompression }

type lz4Compressor struct{}

func (lz4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	// lz4 only distinguishes fast and high compression
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

func (lz4Compressor) DefaultLevel() int { return 1 }

func (lz4Compressor) LevelRange() (int, int) { return 1, 12 }

type zstdCompressor struct{}

func (zstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	encoderLevel := zstd.SpeedFastest
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

func (zstdCompressor) DefaultLevel() int { return 3 }

func (zstdCompressor) LevelRange() (int, int) { return 1, 22 }
