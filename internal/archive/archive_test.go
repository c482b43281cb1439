package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/models"
	"panel-backup/internal/panel"
	"panel-backup/internal/vault"
)

func sampleDB() []byte {
	return append([]byte(panel.SQLiteHeader), bytes.Repeat([]byte("inbound-row;"), 500)...)
}

func writeArtifact(t *testing.T, host string, at time.Time) *models.Artifact {
	t.Helper()
	data := sampleDB()
	path := filepath.Join(t.TempDir(), models.SanitizeName(host)+".db")
	require.NoError(t, os.WriteFile(path, data, 0600))
	sum := sha256.Sum256(data)
	return &models.Artifact{
		Host:           host,
		BaseURL:        "https://" + host + ".example:2053",
		Path:           path,
		DiscoveredPath: "/server/getDb",
		Size:           int64(len(data)),
		Checksum:       hex.EncodeToString(sum[:]),
		CreatedAt:      at,
	}
}

func newLocalArchiver(t *testing.T, cfg Config, enc Encrypter) (*Archiver, string) {
	t.Helper()
	base := t.TempDir()
	provider, err := NewLocalProvider(LocalConfig{BasePath: base})
	require.NoError(t, err)
	a, err := New(provider, enc, cfg, nil)
	require.NoError(t, err)
	return a, base
}

func TestCompressionRoundTrip(t *testing.T) {
	cm := NewCompressionManager()
	data := sampleDB()

	for _, algorithm := range []CompressionType{CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, stats, err := cm.Compress(data, algorithm, 99)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), stats.OriginalSize)
			if algorithm != CompressionNone {
				assert.Less(t, len(compressed), len(data))
			}

			restored, err := cm.Decompress(compressed, algorithm)
			require.NoError(t, err)
			assert.Equal(t, data, restored)
		})
	}

	_, _, err := cm.Compress(data, "brotli", 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestStoreListRestore(t *testing.T) {
	cipher, err := vault.NewCipher(bytes.Repeat([]byte{1}, vault.KeySize))
	require.NoError(t, err)

	a, base := newLocalArchiver(t, Config{Compression: CompressionZstd, Encrypt: true}, cipher)
	ctx := context.Background()
	at := time.Date(2026, 10, 3, 4, 5, 6, 0, time.UTC)
	artifact := writeArtifact(t, "Frankfurt 1", at)

	key, err := a.Store(ctx, artifact)
	require.NoError(t, err)
	assert.Equal(t, "Frankfurt_1/Frankfurt_1_20261003T040506.000Z.db.zst.enc", key)
	assert.FileExists(t, filepath.Join(base, filepath.FromSlash(key)))

	entries, err := a.List(ctx, "Frankfurt 1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Key)
	assert.True(t, entries[0].Encrypted)
	assert.Equal(t, artifact.Checksum, entries[0].Checksum)

	dest := filepath.Join(t.TempDir(), "restored.db")
	entry, err := a.Restore(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, "Frankfurt 1", entry.Host)

	restored, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sampleDB(), restored)
}

func TestRestoreWithWrongKeyFails(t *testing.T) {
	first, err := vault.NewCipher(bytes.Repeat([]byte{1}, vault.KeySize))
	require.NoError(t, err)
	second, err := vault.NewCipher(bytes.Repeat([]byte{2}, vault.KeySize))
	require.NoError(t, err)

	base := t.TempDir()
	provider, err := NewLocalProvider(LocalConfig{BasePath: base})
	require.NoError(t, err)

	writer, err := New(provider, first, Config{Compression: CompressionGzip, Encrypt: true}, nil)
	require.NoError(t, err)
	key, err := writer.Store(context.Background(), writeArtifact(t, "A", time.Now().UTC()))
	require.NoError(t, err)

	reader, err := New(provider, second, Config{}, nil)
	require.NoError(t, err)
	_, err = reader.Restore(context.Background(), key, filepath.Join(t.TempDir(), "x.db"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCrypto))
}

func TestPruneKeepsNewestPerHost(t *testing.T) {
	a, _ := newLocalArchiver(t, Config{Compression: CompressionGzip, Retention: RetentionPolicy{KeepLast: 2}}, nil)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := a.Store(ctx, writeArtifact(t, "A", base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := a.Store(ctx, writeArtifact(t, "B", base))
	require.NoError(t, err)

	removed, err := a.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	for _, e := range removed {
		assert.Equal(t, "A", e.Host)
		assert.True(t, e.CreatedAt.Before(base.Add(2*time.Hour)))
	}

	remaining, err := a.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
	assert.Equal(t, base.Add(3*time.Hour), remaining[0].CreatedAt, "newest first")
}

func TestRetentionMaxAge(t *testing.T) {
	now := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Key: "a1", Host: "A", CreatedAt: now.Add(-1 * time.Hour)},
		{Key: "a2", Host: "A", CreatedAt: now.Add(-48 * time.Hour)},
		{Key: "b1", Host: "B", CreatedAt: now.Add(-72 * time.Hour)},
	}

	expired := RetentionPolicy{MaxAge: 24 * time.Hour}.Expired(entries, now)
	require.Len(t, expired, 1)
	assert.Equal(t, "a2", expired[0].Key, "newest entry of a host always survives")

	assert.Empty(t, RetentionPolicy{}.Expired(entries, now))
	assert.Empty(t, RetentionPolicy{KeepLast: 2, MaxAge: 24 * time.Hour}.Expired(entries, now))
}

func TestLocalProviderRejectsTraversal(t *testing.T) {
	provider, err := NewLocalProvider(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	for _, key := range []string{"", "../x", "/abs", "a/../../b", "a//b"} {
		err := provider.Put(context.Background(), key, []byte("x"), "")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), key)
	}
}

func TestProviderConfigValidate(t *testing.T) {
	assert.NoError(t, ProviderConfig{Type: ProviderLocal, Local: LocalConfig{BasePath: "/tmp/x"}}.Validate())
	assert.Error(t, ProviderConfig{Type: ProviderS3}.Validate())
	assert.Error(t, ProviderConfig{Type: ProviderAzure, Azure: AzureConfig{AccountName: "a"}}.Validate())
	assert.Error(t, ProviderConfig{Type: ProviderGCS}.Validate())
	assert.Error(t, ProviderConfig{Type: "ftp"}.Validate())

	_, err := NewProvider(context.Background(), ProviderConfig{Type: "ftp"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestNewRequiresEncrypterWhenEncrypting(t *testing.T) {
	provider, err := NewLocalProvider(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	_, err = New(provider, nil, Config{Encrypt: true}, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
